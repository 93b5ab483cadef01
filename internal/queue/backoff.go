package queue

import "time"

// Значения по умолчанию для RetryPolicy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 5 * time.Second
	DefaultMaxDelay    = 10 * time.Minute
)

// RetryPolicy — политика повторов: фиксированный лимит попыток
// и экспоненциальный backoff.
type RetryPolicy struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts int

	// BaseDelay — задержка после первой неудачи.
	BaseDelay time.Duration

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 попытки, backoff от 5s, не больше 10m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// withDefaults подставляет значения по умолчанию для незаданных полей.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Backoff вычисляет задержку перед следующей попыткой после неудачной
// попытки номер attempt (нумерация с 1).
//
// delay = BaseDelay * 2^(attempt-1), но не больше MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
	}

	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
