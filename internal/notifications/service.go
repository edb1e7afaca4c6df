package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelvault/internal/config"
)

const userAgent = "reelvault/0.1"

// Event identifies the notification being published.
type Event string

const (
	EventTranscodeCompleted Event = "transcode_completed"
	EventTranscodeFailed    Event = "transcode_failed"
	EventTest               Event = "test"
)

// Payload carries event-specific fields. Known keys: name, id, encoder,
// elapsed, reason.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when cfg has no topic.
func NewService(cfg *config.Config) Service {
	if cfg == nil || strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:      strings.TrimSpace(cfg.Notifications.NtfyTopic),
		client:        &http.Client{Timeout: timeout},
		notifySuccess: cfg.Notifications.NotifySuccess,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	notifySuccess bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	name := payloadString(payload, "name")
	if name == "" {
		name = payloadString(payload, "id")
	}
	switch event {
	case EventTranscodeCompleted:
		if !n.notifySuccess {
			return message{}, false
		}
		body := fmt.Sprintf("HLS ready: %s", name)
		if enc := payloadString(payload, "encoder"); enc != "" {
			body += fmt.Sprintf(" (%s", enc)
			if elapsed := payloadString(payload, "elapsed"); elapsed != "" {
				body += ", " + elapsed
			}
			body += ")"
		}
		return message{
			title: "reelvault - Transcode Complete",
			body:  body,
			tags:  []string{"reelvault", "transcode", "completed"},
		}, true
	case EventTranscodeFailed:
		reason := payloadString(payload, "reason")
		if reason == "" {
			reason = "unknown"
		}
		return message{
			title:    "reelvault - Transcode Failed",
			body:     fmt.Sprintf("Transcode failed for %s: %s", name, reason),
			tags:     []string{"reelvault", "transcode", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "reelvault - Test",
			body:     "Notification system test",
			tags:     []string{"reelvault", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Duration:
		return v.Round(time.Second).String()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
