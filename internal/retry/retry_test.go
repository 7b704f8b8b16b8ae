package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keagan/reelcutter/internal/config"
)

func recordingPolicy(attempts int, base time.Duration, mult float64) (*Policy, *[]time.Duration) {
	var sleeps []time.Duration
	p := &Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    10 * base,
		Multiplier:  mult,
		Sleeper:     func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return p, &sleeps
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	p, sleeps := recordingPolicy(5, time.Second, 2)

	calls := 0
	err := p.Do(context.Background(), "upload", func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("429 rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p, sleeps := recordingPolicy(5, time.Second, 1)
	permanent := errors.New("invalid argument")

	calls := 0
	err := p.Do(context.Background(), "generate", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() error = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %v on a permanent error", *sleeps)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p, sleeps := recordingPolicy(3, time.Second, 1)
	cause := errors.New("RESOURCE_EXHAUSTED")

	calls := 0
	err := p.Do(context.Background(), "select", func(context.Context) error {
		calls++
		return Transient(cause)
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("Do() error = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Do() error = %v should wrap the last cause", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*sleeps) != 2 {
		t.Errorf("sleeps = %v, want 2 waits", *sleeps)
	}
}

func TestDoUsesClassifierHook(t *testing.T) {
	p, _ := recordingPolicy(2, time.Millisecond, 1)
	quota := errors.New("quota exceeded")
	p.IsRetryable = func(err error) bool { return errors.Is(err, quota) }

	calls := 0
	_ = p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return quota
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Sleeper:     func(time.Duration) { cancel() },
	}

	calls := 0
	err := p.Do(ctx, "op", func(context.Context) error {
		calls++
		return Transient(errors.New("busy"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"fixed", Fixed(5, time.Minute), 4, time.Minute},
		{"exponential", Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2}, 3, 4 * time.Second},
		{"capped", Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}, 10, 5 * time.Second},
		{"zero base", Policy{Multiplier: 2}, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestTransientNil(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error reported as transient")
	}
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxAttempts: 3, BaseDelay: 1.5, MaxDelay: 60, Multiplier: 2})
	if p.MaxAttempts != 3 || p.BaseDelay != 1500*time.Millisecond || p.MaxDelay != time.Minute || p.Multiplier != 2 {
		t.Errorf("FromConfig() = %+v", p)
	}
}
