package config

import (
	"time"

	"gradewatch/internal/captcha"
	"gradewatch/internal/notify"
	"gradewatch/internal/secrets"
	"gradewatch/internal/selector"
)

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// URLs resolves the login and grade page urls. Stored secrets win over
// the configuration, the legacy single url is the last resort for both.
func URLs(c Config, s secrets.Secrets) (loginURL, gradesURL string) {
	legacy := pick(s.URL, c.URL)
	return pick(s.LoginURL, c.LoginURL, legacy), pick(s.GradesURL, c.GradesURL, legacy)
}

// SetupDefaults is what the setup form is pre-filled with.
func SetupDefaults(c Config, s secrets.Secrets) secrets.Secrets {
	out := s
	out.URL = ""
	out.LoginURL, out.GradesURL = URLs(c, s)
	out.OCR.BaseURL = pick(s.OCR.BaseURL, c.OCR.BaseURL)
	out.OCR.Model = pick(s.OCR.Model, c.OCR.Model)
	return out
}

// OCR builds the captcha recognizer settings. The api key only ever comes
// from the secrets.
func OCR(c Config, s secrets.Secrets) captcha.OCRConfig {
	return captcha.OCRConfig{
		BaseURL:          pick(s.OCR.BaseURL, c.OCR.BaseURL),
		Model:            pick(s.OCR.Model, c.OCR.Model),
		APIKey:           s.OCR.APIKey,
		Timeout:          time.Duration(c.OCR.TimeoutSeconds) * time.Second,
		BypassCloudflare: c.OCR.BypassCloudflare,
	}
}

// Email combines the smtp server of the configuration with the identities
// of the secrets.
func Email(c Config, s secrets.Secrets) notify.EmailConfig {
	return notify.EmailConfig{
		SMTPServer:     c.Email.SMTPServer,
		SMTPPort:       c.Email.SMTPPort,
		Subject:        c.Email.Subject,
		SenderEmail:    s.Email.SenderEmail,
		SenderPassword: s.Email.SenderPassword,
		ReceiverEmail:  s.Email.ReceiverEmail,
	}
}

func Selectors(c Config) selector.Config {
	return selector.Config{XPathMap: c.XPath, LoginMap: c.Login}
}

func CaptchaSelectors(c Config) captcha.Selectors {
	sel := Selectors(c)
	return captcha.Selectors{
		Image:    sel.Login("captcha_image"),
		Fallback: sel.Login("captcha_image_fallback"),
		Refresh:  sel.Login("captcha_refresh"),
	}
}
