package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries to be 3, got %d", config.MaxRetries)
	}
	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected InitialDelay to be 100ms, got %v", config.InitialDelay)
	}
	if config.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay to be 5s, got %v", config.MaxDelay)
	}
	if config.BackoffFactor != 2.0 {
		t.Errorf("Expected BackoffFactor to be 2.0, got %f", config.BackoffFactor)
	}
	if len(config.RetryableErrors) != 9 {
		t.Errorf("Expected 9 retryable errors, got %d", len(config.RetryableErrors))
	}
}

func TestReadinessConfig(t *testing.T) {
	config := ReadinessConfig(10, 50*time.Millisecond, time.Second)
	if config.MaxRetries != 9 {
		t.Errorf("Expected 9 retries for 10 attempts, got %d", config.MaxRetries)
	}
	if !config.isRetryableError(errors.New("unexpected status 503")) {
		t.Error("readiness config should retry any error")
	}
	if config.isRetryableError(Permanent(errors.New("process exited"))) {
		t.Error("permanent errors must not be retried")
	}

	if got := ReadinessConfig(0, time.Millisecond, time.Second).MaxRetries; got != 0 {
		t.Errorf("Expected at least one attempt, got MaxRetries=%d", got)
	}
}

func TestConfig_isRetryableError(t *testing.T) {
	config := DefaultRetryConfig()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused error", errors.New("connection refused"), true},
		{"connection reset error", errors.New("connection reset by peer"), true},
		{"timeout error", errors.New("request timeout"), true},
		{"database is locked error", errors.New("database is locked"), true},
		{"context canceled error", context.Canceled, false},
		{"context deadline exceeded error", context.DeadlineExceeded, false},
		{"non-retryable error", errors.New("syntax error"), false},
		{"permanent error", Permanent(errors.New("connection refused")), false},
		{"case insensitive matching", errors.New("CONNECTION REFUSED"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := config.isRetryableError(tt.err)
			if result != tt.expected {
				t.Errorf("isRetryableError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestConfig_calculateDelay(t *testing.T) {
	config := ReadinessConfig(10, 50*time.Millisecond, 1*time.Second)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{-1, 50 * time.Millisecond},
		{0, 50 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{8, 1 * time.Second},
	}

	for _, tt := range tests {
		result := config.calculateDelay(tt.attempt)
		if result != tt.expected {
			t.Errorf("calculateDelay(%d) = %v, expected %v", tt.attempt, result, tt.expected)
		}
	}
}

func TestWithRetry_Success(t *testing.T) {
	config := &Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2.0}

	callCount := 0
	err := WithRetry(context.Background(), config, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}

func TestWithRetry_RetryableError(t *testing.T) {
	config := &Config{
		MaxRetries:      2,
		InitialDelay:    time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		BackoffFactor:   2.0,
		RetryableErrors: []string{"connection refused"},
	}

	callCount := 0
	err := WithRetry(context.Background(), config, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected operation to be called 3 times, got %d", callCount)
	}
}

func TestWithRetry_NonRetryableError(t *testing.T) {
	config := &Config{
		MaxRetries:      2,
		InitialDelay:    time.Millisecond,
		BackoffFactor:   2.0,
		RetryableErrors: []string{"connection refused"},
	}

	callCount := 0
	err := WithRetry(context.Background(), config, func() error {
		callCount++
		return errors.New("syntax error")
	})

	if err == nil || err.Error() != "syntax error" {
		t.Errorf("Expected original error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}

func TestWithRetry_MaxRetriesExceeded(t *testing.T) {
	config := ReadinessConfig(3, time.Millisecond, 5*time.Millisecond)

	cause := errors.New("connection refused")
	callCount := 0
	err := WithRetry(context.Background(), config, func() error {
		callCount++
		return cause
	})

	if callCount != 3 {
		t.Errorf("Expected operation to be called 3 times, got %d", callCount)
	}
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Expected attempt count in message, got %q", err.Error())
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	config := &Config{MaxRetries: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond, BackoffFactor: 2.0}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := WithRetry(ctx, config, func() error {
		return errors.New("connection refused")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "operation cancelled during retry") {
		t.Errorf("Expected context cancellation message, got '%s'", err.Error())
	}
}

func TestWithRetry_NilConfig(t *testing.T) {
	callCount := 0
	err := WithRetry(context.Background(), nil, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error with nil config, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected operation to be called once, got %d", callCount)
	}
}
