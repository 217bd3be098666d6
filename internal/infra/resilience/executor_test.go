package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestExecute_RetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(testPolicy(), testLogger())

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, errTemp), RecordFailure: true}
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecute_DoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(testPolicy(), testLogger())

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestExecute_OpensCircuitAfterFailures(t *testing.T) {
	policy := Policy{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}
	exec := NewExecutor(policy, testLogger())

	errBackend := &StatusError{Operation: "search", StatusCode: 503, Body: "down"}
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "search", func(context.Context) error {
			return errBackend
		}, ClassifyHTTP)
	}

	calls := 0
	err := exec.Execute(context.Background(), "search", func(context.Context) error {
		calls++
		return nil
	}, ClassifyHTTP)

	assert.True(t, IsCircuitOpen(err), "breaker should be open: %v", err)
	assert.Zero(t, calls)
}

func TestExecute_BreakersAreIndependentPerOperation(t *testing.T) {
	policy := Policy{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}
	exec := NewExecutor(policy, testLogger())

	errBackend := &StatusError{Operation: "search.lexical", StatusCode: 500, Body: "boom"}
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "search.lexical", func(context.Context) error {
			return errBackend
		}, ClassifyHTTP)
	}

	err := exec.Execute(context.Background(), "rerank", func(context.Context) error {
		return nil
	}, ClassifyHTTP)
	assert.NoError(t, err)
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		retryable     bool
		recordFailure bool
	}{
		{"server error", &StatusError{StatusCode: 500}, true, true},
		{"rate limited", &StatusError{StatusCode: 429}, true, true},
		{"bad request", &StatusError{StatusCode: 400}, false, false},
		{"cancelled", context.Canceled, false, false},
		{"transport failure", errors.New("connection refused"), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := ClassifyHTTP(tt.err)
			assert.Equal(t, tt.retryable, class.Retryable)
			assert.Equal(t, tt.recordFailure, class.RecordFailure)
		})
	}
}

func TestExecute_ContextCancelledStopsRetries(t *testing.T) {
	exec := NewExecutor(testPolicy(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		calls++
		return nil
	}, ClassifyHTTP)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
