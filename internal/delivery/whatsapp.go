package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

type waInteractiveRequest struct {
	To      string     `json:"to"`
	Body    string     `json:"body"`
	Buttons []waButton `json:"buttons"`
}

type waButton struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Code  string `json:"code"`
}

type waTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type waResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// WhatsApp is the secondary backend. It sends an interactive message with a
// copy-code button and falls back to plain text when that is not accepted.
type WhatsApp struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewWhatsApp creates the WhatsApp gateway backend for one instance.
func NewWhatsApp(baseURL, instanceKey string, client *http.Client, logger *zap.Logger) *WhatsApp {
	return &WhatsApp{
		baseURL: strings.TrimRight(baseURL, "/") + "/instances/" + url.PathEscape(instanceKey),
		client:  client,
		logger:  logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Send(ctx context.Context, to string, msg Message) Result {
	dest := wireNumber(to)

	if msg.Code != "" {
		res := w.post(ctx, "/messages/interactive", waInteractiveRequest{
			To:      dest,
			Body:    msg.Text,
			Buttons: []waButton{{Type: "copy_code", Title: "Copy code", Code: msg.Code}},
		})
		if res.Success {
			return res
		}
		if ctx.Err() != nil {
			return res
		}
		w.logger.Debug("interactive whatsapp message not accepted, falling back to text",
			zap.String("failure", string(res.Failure)),
			zap.String("detail", res.Detail),
		)
	}

	return w.post(ctx, "/messages/text", waTextRequest{To: dest, Text: msg.Text})
}

func (w *WhatsApp) post(ctx context.Context, path string, payload any) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return failed(FailureTransport, "encode whatsapp request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return failed(FailureTransport, "build whatsapp request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return failed(FailureTransport, "whatsapp gateway request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return failed(FailureTransport, "read whatsapp gateway response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failed(FailureTransport, "whatsapp gateway returned status %d: %s", resp.StatusCode, snippet(raw))
	}

	var parsed waResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return failed(FailureRejected, "decode whatsapp gateway response: %v", err)
	}
	if !parsed.Success {
		if parsed.Error == "" {
			return failed(FailureRejected, "whatsapp gateway did not accept the message")
		}
		return failed(FailureRejected, "%s", parsed.Error)
	}
	return sent(parsed.MessageID)
}

var (
	_ Provider = (*WhatsApp)(nil)
	_ Provider = (*SMS)(nil)
)
