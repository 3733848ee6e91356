package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// smsTextPath is appended to the configured base URL.
const smsTextPath = "/sms/2/text/advanced"

// Status group reported for messages the gateway has accepted for delivery.
const (
	smsGroupPending     = 1
	smsGroupNamePending = "PENDING"
)

type smsRequest struct {
	Messages []smsMessage `json:"messages"`
}

type smsMessage struct {
	From         string           `json:"from"`
	Destinations []smsDestination `json:"destinations"`
	Text         string           `json:"text"`
}

type smsDestination struct {
	To string `json:"to"`
}

type smsResponse struct {
	Messages []struct {
		MessageID string `json:"messageId"`
		Status    struct {
			GroupID     int    `json:"groupId"`
			GroupName   string `json:"groupName"`
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"status"`
	} `json:"messages"`
}

// SMS is the primary backend: a bearer-authenticated text-message gateway.
type SMS struct {
	endpoint string
	apiKey   string
	sender   string
	client   *http.Client
}

// NewSMS creates the SMS gateway backend.
func NewSMS(baseURL, apiKey, sender string, client *http.Client) *SMS {
	return &SMS{
		endpoint: strings.TrimRight(baseURL, "/") + smsTextPath,
		apiKey:   apiKey,
		sender:   sender,
		client:   client,
	}
}

func (s *SMS) Name() string { return "sms" }

// Send posts one message and accepts it only when the gateway reports the
// pending status group; any other group is a rejection carrying the
// gateway's status description.
func (s *SMS) Send(ctx context.Context, to string, msg Message) Result {
	body, err := json.Marshal(smsRequest{Messages: []smsMessage{{
		From:         s.sender,
		Destinations: []smsDestination{{To: wireNumber(to)}},
		Text:         msg.Text,
	}}})
	if err != nil {
		return failed(FailureTransport, "encode sms request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return failed(FailureTransport, "build sms request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return failed(FailureTransport, "sms gateway request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return failed(FailureTransport, "read sms gateway response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failed(FailureTransport, "sms gateway returned status %d: %s", resp.StatusCode, snippet(raw))
	}

	var parsed smsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return failed(FailureRejected, "decode sms gateway response: %v", err)
	}
	if len(parsed.Messages) == 0 {
		return failed(FailureRejected, "sms gateway response had no messages")
	}

	m := parsed.Messages[0]
	if m.Status.GroupID == smsGroupPending || strings.EqualFold(m.Status.GroupName, smsGroupNamePending) {
		return sent(m.MessageID)
	}
	detail := m.Status.Description
	if detail == "" {
		detail = m.Status.Name
	}
	if detail == "" {
		detail = fmt.Sprintf("status group %d", m.Status.GroupID)
	}
	return failed(FailureRejected, "%s", detail)
}

func snippet(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
