// Package notify pushes UI refresh events to the front-end webhook.
// Delivery is fire-and-forget: the bar keeps running when the screen
// is down.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event names understood by the front end.
const (
	EventOrderUpdated      = "order_updated"
	EventRobotUpdated      = "robot_updated"
	EventSystemModeChanged = "system_mode_changed"
)

// Event is the webhook payload.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Service posts events to a single webhook URL. A nil or empty URL
// disables dispatch entirely.
type Service struct {
	url    string
	client *http.Client
}

// NewService creates a notify service. url may be empty.
func NewService(url string) *Service {
	return &Service{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Publish dispatches one event asynchronously.
func (s *Service) Publish(eventType string) {
	if s.url == "" {
		return
	}
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	go func() {
		if err := s.send(ev); err != nil {
			log.Debug().Err(err).Str("event", eventType).Msg("notify dispatch failed")
		}
	}()
}

func (s *Service) send(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Barctl-Event", ev.Type)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d", resp.StatusCode)
	}
	return nil
}
