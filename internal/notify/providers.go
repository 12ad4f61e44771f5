// Package notify delivers guest notifications (the priority-number SMS).
// Every provider is best-effort: callers log failures and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Dispatcher interface {
	Send(ctx context.Context, recipient, message string) error
}

type Config struct {
	Provider     string
	WebhookURL   string
	WebhookToken string
	KafkaBrokers []string
	KafkaTopic   string
	Timeout      time.Duration
}

// New picks a provider by name. Unknown names and providers missing their
// settings fall back to logging.
func New(cfg Config) Dispatcher {
	switch cfg.Provider {
	case "", "stub", "log":
		return LogProvider{}
	case "noop":
		return NoopProvider{}
	case "fail":
		return FailProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return LogProvider{}
		}
		return NewWebhookProvider(cfg.WebhookURL, cfg.WebhookToken, cfg.Timeout)
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return LogProvider{}
		}
		return NewKafkaProvider(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		if strings.HasPrefix(cfg.Provider, "http://") || strings.HasPrefix(cfg.Provider, "https://") {
			return NewWebhookProvider(cfg.Provider, cfg.WebhookToken, cfg.Timeout)
		}
		return LogProvider{}
	}
}

type LogProvider struct{}

func (LogProvider) Send(ctx context.Context, recipient, message string) error {
	slog.InfoContext(ctx, "send sms", "recipient", recipient, "message", message)
	return nil
}

type NoopProvider struct{}

func (NoopProvider) Send(ctx context.Context, recipient, message string) error {
	return nil
}

type FailProvider struct{}

func (FailProvider) Send(ctx context.Context, recipient, message string) error {
	return errors.New("provider failure")
}

type WebhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookProvider(url, token string, timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookProvider{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (p *WebhookProvider) Send(ctx context.Context, recipient, message string) error {
	body, err := json.Marshal(map[string]string{
		"channel":   "sms",
		"recipient": recipient,
		"message":   message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}
	return nil
}

// PriorityNumberMessage is the text sent to guests after a flow enqueue.
func PriorityNumberMessage(priorityNumber string) string {
	return "Your priority number is " + priorityNumber + "."
}
