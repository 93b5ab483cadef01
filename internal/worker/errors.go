package worker

import "errors"

// Ошибки воркера.
var (
	// ErrWebhookRequest — запрос к webhook не выполнен (сеть, таймаут).
	ErrWebhookRequest = errors.New("webhook request failed")

	// ErrWebhookStatus — webhook ответил не 2xx.
	ErrWebhookStatus = errors.New("webhook returned non-2xx status")

	// ErrMissingWebhookURL — URL webhook не задан.
	ErrMissingWebhookURL = errors.New("webhook url is required")
)
