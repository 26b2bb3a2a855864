package retry

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	tests := []struct {
		attempt int64
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		got, err := b.Delay(tt.attempt, nil)
		if err != nil {
			t.Fatalf("attempt %d: %v", tt.attempt, err)
		}
		if got != tt.want {
			t.Fatalf("attempt %d: delay = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	b := Backoff{Base: 10 * time.Second, Max: 10 * time.Second, Jitter: 0.2}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		d, err := b.Delay(1, rng)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if d < 8*time.Second || d > 12*time.Second {
			t.Fatalf("delay out of range: %v", d)
		}
	}
}

func TestBackoffRejectsAttemptZero(t *testing.T) {
	if _, err := DefaultBackoff().Delay(0, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBackoffValidate(t *testing.T) {
	if err := DefaultBackoff().Validate(); err != nil {
		t.Fatalf("default backoff invalid: %v", err)
	}
	bad := []Backoff{
		{},
		{Base: time.Second, Max: time.Millisecond},
		{Base: time.Second, Max: time.Second, Jitter: 1},
		{Base: time.Second, Max: time.Second, Jitter: -0.1},
	}
	for _, b := range bad {
		if err := b.Validate(); err == nil {
			t.Fatalf("expected error for %+v", b)
		}
	}
}

func TestDueScoreIsUnixMillis(t *testing.T) {
	if got := dueScore(time.Unix(0, 0), 1500*time.Millisecond); got != 1500 {
		t.Fatalf("score = %v", got)
	}
}
