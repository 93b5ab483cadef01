package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Postflow/internal/domain"
)

const (
	defaultWebhookTimeout = 30 * time.Second

	// maxErrorBody — сколько байт тела ответа попадает в текст ошибки.
	maxErrorBody = 512
)

// WebhookClient вызывает publish webhook.
//
// Запрос: POST <url>, тело — JobPayload в JSON, заголовок Idempotency-Key
// с идентификатором job. Успех — любой 2xx.
type WebhookClient struct {
	url    string
	client *http.Client
}

// NewWebhookClient создаёт клиент. timeout <= 0 — 30s.
func NewWebhookClient(url string, timeout time.Duration) (*WebhookClient, error) {
	if url == "" {
		return nil, ErrMissingWebhookURL
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &WebhookClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Publish выполняет один вызов webhook.
func (c *WebhookClient) Publish(ctx context.Context, id domain.JobID, payload domain.JobPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", ErrWebhookRequest, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrWebhookRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", id.String())
	req.Header.Set("User-Agent", "postflow-worker")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// дочитываем, чтобы соединение вернулось в пул
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}
	return fmt.Errorf("%w: %d: %s", ErrWebhookStatus, resp.StatusCode, msg)
}
