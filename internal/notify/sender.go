package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "condcal/internal/log"
	"condcal/internal/model"
)

// LogSender writes reminders to the application log.
type LogSender struct{}

func (LogSender) Send(_ context.Context, prefs model.Preferences, p Payload) error {
	appLog.Info("notify: reminder",
		"owner", prefs.OwnerID,
		"event", p.EventID,
		"title", p.Title,
		"body", p.Body,
	)
	return nil
}

// WebhookSender POSTs the payload as JSON to the owner's push endpoint.
// Owners with only an email address get ErrNoChannel.
type WebhookSender struct {
	Client *http.Client
}

func NewWebhookSender() *WebhookSender {
	return &WebhookSender{Client: &http.Client{Timeout: 10 * time.Second}}
}

type webhookBody struct {
	Payload
	Keys *pushKeys `json:"keys,omitempty"`
}

type pushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s *WebhookSender) Send(ctx context.Context, prefs model.Preferences, p Payload) error {
	if prefs.PushEndpoint == "" {
		return ErrNoChannel
	}

	body := webhookBody{Payload: p}
	if prefs.PushP256dh != "" || prefs.PushAuth != "" {
		body.Keys = &pushKeys{P256dh: prefs.PushP256dh, Auth: prefs.PushAuth}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, prefs.PushEndpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}
