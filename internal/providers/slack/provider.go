package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
)

type Provider interface {
	// PostMessage posts to the configured incoming webhook. An empty
	// channel keeps the webhook's default channel.
	PostMessage(ctx context.Context, channel string, message string) error
}

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if strings.TrimSpace(cfg.Slack.SecurityWebhookURL) == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(cfg.Slack.SecurityWebhookURL, 5*time.Second)
}

type NoOpProvider struct{}

func (p *NoOpProvider) PostMessage(ctx context.Context, channel string, message string) error {
	return nil
}

type WebhookProvider struct {
	url  string
	http *http.Client
}

func NewWebhook(url string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{url: url, http: &http.Client{Timeout: timeout}}
}

type webhookMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

func (p *WebhookProvider) PostMessage(ctx context.Context, channel string, message string) error {
	body, err := json.Marshal(webhookMessage{Channel: channel, Text: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	}
	return nil
}
