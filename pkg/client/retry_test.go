package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts() = %d, want 3", policy.MaxAttempts())
	}
	if policy.Delay(1) != 5*time.Second {
		t.Errorf("Delay(1) = %v, want 5s", policy.Delay(1))
	}
	if policy.Delay(2) != 10*time.Second {
		t.Errorf("Delay(2) = %v, want 10s", policy.Delay(2))
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{Delays: []time.Duration{time.Second, 3 * time.Second}}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{name: "attempt zero", attempt: 0, expected: 0},
		{name: "first failure", attempt: 1, expected: time.Second},
		{name: "second failure", attempt: 2, expected: 3 * time.Second},
		{name: "beyond schedule", attempt: 3, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Delay(tt.attempt); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestRetryPolicy_Empty(t *testing.T) {
	policy := RetryPolicy{}

	if policy.MaxAttempts() != 1 {
		t.Errorf("MaxAttempts() = %d, want 1 for an empty schedule", policy.MaxAttempts())
	}
}

func TestWaitBackoff(t *testing.T) {
	policy := RetryPolicy{Delays: []time.Duration{20 * time.Millisecond}}

	start := time.Now()
	if err := waitBackoff(context.Background(), zerolog.Nop(), policy, ErrorClassServer, 1); err != nil {
		t.Fatalf("waitBackoff() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 20ms", elapsed)
	}
}

func TestWaitBackoff_ContextCancelled(t *testing.T) {
	policy := RetryPolicy{Delays: []time.Duration{time.Hour}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitBackoff(ctx, zerolog.Nop(), policy, ErrorClassNetwork, 1)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("waitBackoff() error = %v, want ErrContextCancelled", err)
	}
}
