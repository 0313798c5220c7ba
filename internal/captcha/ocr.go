package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gradewatch/internal/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gradewatch/captcha")

const prompt = "请识别图片中的算式，只输出算式，例如 12+8，不要输出其他文字。"

const (
	report_ocr_request  = "ocr.request-text"
	report_ocr_response = "ocr.parse-response"
	report_ocr_status   = "ocr.status"
)

type OCRConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
	// BypassCloudflare wraps the transport for relays fronted by cloudflare.
	BypassCloudflare bool
}

// Configured reports whether base url, model and api key are all present.
func (c OCRConfig) Configured() bool {
	return c.BaseURL != "" && c.Model != "" && c.APIKey != ""
}

// Endpoint returns the chat completions url of an OpenAI compatible base
// url, which may or may not already end in /v1.
func Endpoint(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

type imageURL struct {
	URL string `json:"url"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// OCR reads arithmetic expressions out of images through a vision capable
// chat completions endpoint.
type OCR struct {
	client *resty.Client
	config OCRConfig
	tel    telemetry.API
}

func NewOCR(config OCRConfig, tel telemetry.API) *OCR {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(config.Timeout)
	if config.BypassCloudflare {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("ocr_http", tel))

	return &OCR{
		client: client,
		config: config,
		tel:    tel,
	}
}

// RequestText returns the expression the model read from the base64 PNG,
// or "" on any transport, status or decoding failure.
func (o *OCR) RequestText(ctx context.Context, imageBase64 string) string {
	ctx, span := tracer.Start(ctx, "RequestText")
	defer span.End()

	if !o.config.Configured() {
		return ""
	}
	endpoint := Endpoint(o.config.BaseURL)
	span.SetAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("model", o.config.Model),
	)

	body := chatRequest{
		Model: o.config.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{
						Type:     "image_url",
						ImageURL: &imageURL{URL: "data:image/png;base64," + imageBase64},
					},
				},
			},
		},
		Temperature: 0,
	}

	res, err := o.client.R().
		SetContext(ctx).
		SetHeader("content-type", "application/json").
		SetAuthToken(o.config.APIKey).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		o.tel.ReportWarning(report_ocr_request, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return ""
	}
	if res.IsError() {
		err := fmt.Errorf("unexpected status %s", res.Status())
		o.tel.ReportWarning(report_ocr_status, err, endpoint)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return ""
	}

	var parsed chatResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		o.tel.ReportWarning(report_ocr_response, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse json response")
		return ""
	}
	if len(parsed.Choices) == 0 {
		o.tel.ReportWarning(report_ocr_response, "no choices in response")
		return ""
	}

	text := parsed.Choices[0].Message.Content
	span.SetAttributes(attribute.String("text", text))
	return text
}
