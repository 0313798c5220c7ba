// Package secrets holds the user's credentials: portal login, email
// identities and the OCR api key. They are stored in a JSON file and merged
// field by field, a non-empty value overwrites and an empty one never
// erases.
package secrets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
)

type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Email struct {
	SenderEmail    string `json:"sender_email"`
	SenderPassword string `json:"sender_password"`
	ReceiverEmail  string `json:"receiver_email"`
}

type OCR struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type Secrets struct {
	// URL is the legacy single url for both login and grades.
	URL       string `json:"url,omitempty"`
	LoginURL  string `json:"login_url"`
	GradesURL string `json:"grades_url"`
	Login     Login  `json:"login"`
	Email     Email  `json:"email"`
	OCR       OCR    `json:"ocr"`
}

func (s Secrets) LoginConfigured() bool {
	return s.Login.Username != "" && s.Login.Password != ""
}

func (s Secrets) EmailConfigured() bool {
	return s.Email.SenderEmail != "" && s.Email.SenderPassword != "" && s.Email.ReceiverEmail != ""
}

func (s Secrets) OCRConfigured() bool {
	return s.OCR.BaseURL != "" && s.OCR.Model != "" && s.OCR.APIKey != ""
}

// Merge returns base with every non-empty field of update applied.
func Merge(base, update Secrets) (Secrets, error) {
	out := base
	if err := mergo.Merge(&out, update, mergo.WithOverride); err != nil {
		return base, err
	}
	return out, nil
}

// Load reads the secrets file, a missing file yields empty secrets.
func Load(path string) (Secrets, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Secrets{}, nil
	}
	if err != nil {
		return Secrets{}, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Secrets{}, nil
	}

	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return Secrets{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

func Save(path string, s Secrets) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

const envPrefix = "GRADEWATCH_"

// FromEnv reads secrets from GRADEWATCH_* variables. Variables in envFile
// are used when the process environment does not set them. A missing
// envFile is ignored.
func FromEnv(envFile string) (Secrets, error) {
	file := map[string]string{}
	if envFile != "" {
		read, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Secrets{}, fmt.Errorf("read %s: %w", envFile, err)
		}
		if read != nil {
			file = read
		}
	}

	get := func(name string) string {
		key := envPrefix + name
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(file[key])
	}

	return Secrets{
		LoginURL:  get("LOGIN_URL"),
		GradesURL: get("GRADES_URL"),
		Login: Login{
			Username: get("USERNAME"),
			Password: get("PASSWORD"),
		},
		Email: Email{
			SenderEmail:    get("SENDER_EMAIL"),
			SenderPassword: get("SENDER_PASSWORD"),
			ReceiverEmail:  get("RECEIVER_EMAIL"),
		},
		OCR: OCR{
			BaseURL: get("OCR_BASE_URL"),
			Model:   get("OCR_MODEL"),
			APIKey:  get("OCR_API_KEY"),
		},
	}, nil
}
