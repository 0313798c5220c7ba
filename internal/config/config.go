// Package config loads the json5 configuration of gradewatch and derives
// the runtime settings of every component from it and the stored secrets.
package config

import (
	"errors"
	"os"
	"time"

	"gradewatch/internal/login"
	"gradewatch/internal/store"
	"gradewatch/internal/telemetry"

	"github.com/go-playground/validator/v10"
)

type EmailConfig struct {
	SMTPServer string `json:"smtp_server"`
	SMTPPort   int    `json:"smtp_port" validate:"min=1,max=65535"`
	Subject    string `json:"subject"`
}

type OCRConfig struct {
	BaseURL          string `json:"base_url" validate:"omitempty,url"`
	Model            string `json:"model"`
	TimeoutSeconds   int    `json:"timeout_seconds" validate:"min=1"`
	MaxRetries       int    `json:"max_retries" validate:"min=1"`
	BypassCloudflare bool   `json:"bypass_cloudflare"`
}

type BrowserConfig struct {
	Headless bool `json:"headless"`
	// Bin is a chromium compatible executable, the launcher looks one up
	// (or downloads one) when empty.
	Bin string `json:"bin"`
	// RemoteURL connects to an already running browser instead of
	// launching one.
	RemoteURL string `json:"remote_url" validate:"omitempty,url"`
}

type CASConfig struct {
	login.CASConfig
	SwitchAccountLabel string `json:"switch_account_label"`
}

type FilesConfig struct {
	Snapshot   string `json:"snapshot" validate:"required"`
	Secrets    string `json:"secrets" validate:"required"`
	Screenshot string `json:"screenshot"`
	Env        string `json:"env"`
}

type Config struct {
	// URL is the legacy single url for both login and grades.
	URL       string `json:"url" validate:"omitempty,url"`
	LoginURL  string `json:"login_url" validate:"omitempty,url"`
	GradesURL string `json:"grades_url" validate:"omitempty,url"`

	XPath map[string]string `json:"xpath"`
	Login map[string]string `json:"login"`

	Email EmailConfig `json:"email_config"`
	OCR   OCRConfig   `json:"ocr"`

	CheckIntervalSeconds int    `json:"check_interval_seconds" validate:"min=1"`
	UserDataDir          string `json:"user_data_dir" validate:"required"`
	Timezone             string `json:"timezone"`
	SetupAddr            string `json:"setup_addr" validate:"hostname_port"`

	Browser   BrowserConfig       `json:"browser"`
	CAS       CASConfig           `json:"cas"`
	Files     FilesConfig         `json:"files"`
	History   store.HistoryConfig `json:"history"`
	Telemetry telemetry.Config    `json:"telemetry"`
}

func Default() Config {
	return Config{
		XPath: map[string]string{
			"course_row": "tr",
		},
		Login: map[string]string{},
		Email: EmailConfig{
			SMTPPort: 465,
		},
		OCR: OCRConfig{
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		CheckIntervalSeconds: 1800,
		UserDataDir:          "pw_profile",
		SetupAddr:            "127.0.0.1:8000",
		CAS: CASConfig{
			CASConfig:          login.DefaultCASConfig(),
			SwitchAccountLabel: "切换账号登录",
		},
		Files: FilesConfig{
			Snapshot:   "seen_courses.json",
			Secrets:    "user_secrets.json",
			Screenshot: "last_check.png",
			Env:        ".env",
		},
		History: store.HistoryConfig{
			File: "history.db",
		},
	}
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

var validate = validator.New()

func (c Config) Validate() error {
	return validate.Struct(c)
}

// Load reads name (and its .local override) on top of Default and
// validates the result. A missing file is an error.
func Load(name string) (Config, error) {
	config, err := ReadConfig(name, Default())
	if errors.Is(err, os.ErrNotExist) {
		return config, errors.New("configuration file not found: " + name)
	}
	if err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}
