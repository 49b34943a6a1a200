package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/stockledger/internal/config"
	"github.com/mamadbah2/stockledger/internal/domain/models"
)

// Client posts notifications to a generic JSON webhook such as a chat
// incoming-webhook or an automation endpoint.
type Client struct {
	httpClient *resty.Client
	url        string
}

// NewClient builds a webhook client using the provided configuration values.
func NewClient(cfg config.WebhookConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url must not be empty")
	}

	restyClient := resty.New()
	restyClient.
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	return &Client{httpClient: restyClient, url: cfg.URL}, nil
}

// payload is the JSON body sent to the webhook. Text carries the rendered
// message so chat webhooks display it without extra mapping.
type payload struct {
	Title  string              `json:"title"`
	Text   string              `json:"text"`
	SentAt time.Time           `json:"sent_at"`
	Report *models.StockReport `json:"report,omitempty"`
}

// Notify posts the notification and fails on any non-2xx answer.
func (c *Client) Notify(ctx context.Context, notification models.Notification) error {
	body := payload{
		Title:  notification.Title,
		Text:   notification.Message,
		SentAt: time.Now().UTC(),
		Report: notification.Report,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("post webhook notification: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook error: status=%d, body=%s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
