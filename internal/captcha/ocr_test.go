package captcha

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gradewatch/internal/telemetry"

	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	require.Equal(t, "https://api.example.com/v1/chat/completions", Endpoint("https://api.example.com"))
	require.Equal(t, "https://api.example.com/v1/chat/completions", Endpoint("https://api.example.com/v1"))
	require.Equal(t, "https://api.example.com/v1/chat/completions", Endpoint("https://api.example.com/v1///"))
	require.Equal(t, "https://relay.example/openai/v1/chat/completions", Endpoint("https://relay.example/openai/"))
	require.Equal(t, "", Endpoint(""))
}

type ocrServer struct {
	*httptest.Server
	requests atomic.Int32
	last     atomic.Value
}

func newOCRServer(t *testing.T, status int, reply string) *ocrServer {
	s := &ocrServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		body, _ := io.ReadAll(r.Body)
		s.last.Store(map[string]string{
			"path": r.URL.Path,
			"auth": r.Header.Get("Authorization"),
			"lang": r.Header.Get("Accept-Language"),
			"body": string(body),
		})
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(s.Close)
	return s
}

func completion(content string) string {
	out, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(out)
}

func TestRequestText(t *testing.T) {
	server := newOCRServer(t, http.StatusOK, completion("12+8"))
	ocr := NewOCR(OCRConfig{
		BaseURL: server.URL,
		Model:   "vision-mini",
		APIKey:  "sk-test",
		Timeout: 5 * time.Second,
	}, &telemetry.Recorder{})

	text := ocr.RequestText(context.Background(), "aGVsbG8=")
	require.Equal(t, "12+8", text)

	last := server.last.Load().(map[string]string)
	require.Equal(t, "/v1/chat/completions", last["path"])
	require.Equal(t, "Bearer sk-test", last["auth"])

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(last["body"]), &body))
	require.Equal(t, "vision-mini", body["model"])
	require.Equal(t, float64(0), body["temperature"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	require.Equal(t, "text", content[0].(map[string]any)["type"])
	require.Equal(t, prompt, content[0].(map[string]any)["text"])
	image := content[1].(map[string]any)["image_url"].(map[string]any)
	require.Equal(t, "data:image/png;base64,aGVsbG8=", image["url"])
}

func TestRequestTextFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"malformed json", http.StatusOK, `{"choices":`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			server := newOCRServer(t, c.status, c.reply)
			tel := &telemetry.Recorder{}
			ocr := NewOCR(OCRConfig{BaseURL: server.URL + "/v1", Model: "m", APIKey: "k"}, tel)

			require.Equal(t, "", ocr.RequestText(context.Background(), "AA=="))
			require.True(t, tel.Has("warning", "ocr.status") || tel.Has("warning", "ocr.parse-response"))
		})
	}
}

func TestRequestTextUnreachable(t *testing.T) {
	server := newOCRServer(t, http.StatusOK, completion("1+1"))
	server.Close()

	tel := &telemetry.Recorder{}
	ocr := NewOCR(OCRConfig{BaseURL: server.URL, Model: "m", APIKey: "k", Timeout: time.Second}, tel)
	require.Equal(t, "", ocr.RequestText(context.Background(), "AA=="))
	require.True(t, tel.Has("warning", "ocr.request-text"))
	require.False(t, tel.Has("broken", ""))
}

func TestRequestTextBypassCloudflare(t *testing.T) {
	server := newOCRServer(t, http.StatusOK, completion("3*4"))
	ocr := NewOCR(OCRConfig{
		BaseURL:          server.URL,
		Model:            "vision-mini",
		APIKey:           "sk-test",
		Timeout:          5 * time.Second,
		BypassCloudflare: true,
	}, &telemetry.Recorder{})

	require.Equal(t, "3*4", ocr.RequestText(context.Background(), "aGVsbG8="))
	require.EqualValues(t, 1, server.requests.Load())

	last := server.last.Load().(map[string]string)
	require.Equal(t, "/v1/chat/completions", last["path"])
	require.Equal(t, "Bearer sk-test", last["auth"])
	require.Equal(t, "en-US,en;q=0.5", last["lang"])
}
