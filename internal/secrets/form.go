package secrets

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"gradewatch/internal/telemetry"

	"github.com/go-chi/chi/v5"
)

//go:embed form.html
var formHTML string

var formTemplate = template.Must(template.New("form").Parse(formHTML))

const (
	report_form_render = "form.render"
	report_form_serve  = "form.serve"
)

// NewFormHandler serves the setup form pre-filled with defaults. Every
// valid submission is passed to submitted.
func NewFormHandler(defaults Secrets, submitted func(Secrets), tel telemetry.API) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		if err := formTemplate.Execute(w, defaults); err != nil {
			tel.ReportBroken(report_form_render, err)
		}
	})

	r.Post("/submit", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		field := func(name string) string {
			return strings.TrimSpace(r.PostForm.Get(name))
		}

		submitted(Secrets{
			LoginURL:  field("login_url"),
			GradesURL: field("grades_url"),
			Login: Login{
				Username: field("login_username"),
				Password: field("login_password"),
			},
			Email: Email{
				SenderEmail:    field("sender_email"),
				SenderPassword: field("sender_password"),
				ReceiverEmail:  field("receiver_email"),
			},
			OCR: OCR{
				BaseURL: field("ocr_base_url"),
				Model:   field("ocr_model"),
				APIKey:  field("ocr_api_key"),
			},
		})

		w.Header().Set("content-type", "text/html; charset=utf-8")
		fmt.Fprint(w, "Settings saved, you can close this page.")
	})

	return r
}

// Collect serves the setup form on addr until it is submitted once and
// returns the submitted values. open is called with the form url once the
// listener is ready, it may be nil.
func Collect(ctx context.Context, addr string, defaults Secrets, open func(url string) error, tel telemetry.API) (Secrets, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return Secrets{}, fmt.Errorf("setup form: %w", err)
	}

	result := make(chan Secrets, 1)
	server := &http.Server{
		Handler: NewFormHandler(defaults, func(s Secrets) {
			select {
			case result <- s:
			default:
			}
		}, tel),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	url := "http://" + listener.Addr().String()
	tel.ReportDebug("setup form listening", url)
	if open != nil {
		if err := open(url); err != nil {
			tel.ReportWarning(report_form_serve, err, "open the form manually", url)
		}
	}

	select {
	case s := <-result:
		return s, nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = errors.New("server closed before the form was submitted")
		}
		return Secrets{}, fmt.Errorf("setup form: %w", err)
	case <-ctx.Done():
		return Secrets{}, ctx.Err()
	}
}
