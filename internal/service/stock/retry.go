package stock

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig задаёт параметры повторов транзакций хранилища.
// Повторяется только вся последовательность "свежее чтение + проверка +
// commit"; повтор одного commit поверх устаревшей проверки запрещён.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   50 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.2,
	}
}

// delay вычисляет задержку перед попыткой attempt (с единицы) с
// экспоненциальным ростом и случайным jitter.
func (c RetryConfig) delay(attempt int) time.Duration {
	if c.InitialDelay <= 0 {
		return 0
	}

	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffFactor
	}
	if max := float64(c.MaxDelay); max > 0 && delay > max {
		delay = max
	}

	if c.JitterFraction > 0 {
		jitter := delay * c.JitterFraction
		delay = delay - jitter + rand.Float64()*2*jitter
	}

	return time.Duration(delay)
}

// sleep ждёт задержку перед следующей попыткой, уважая отмену контекста.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
