package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(2, 100, time.Minute)

	tests := []struct {
		key  string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.1", true},
		{"10.0.0.1", false}, // burst of 2 spent
		{"10.0.0.2", true},  // separate bucket
	}
	for i, tt := range tests {
		if got := l.Allow(ctx, tt.key); got != tt.want {
			t.Errorf("#%d Allow(%s) = %v, want %v", i, tt.key, got, tt.want)
		}
	}
}

func TestMemoryLimiter_ZeroRateStillAdmitsOne(t *testing.T) {
	l := NewMemoryLimiter(0, 10, time.Minute)
	if !l.Allow(context.Background(), "k") {
		t.Error("first Allow() = false")
	}
}

func TestMemoryLimiter_IdleClientStartsOver(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(1, 10, 30*time.Millisecond)

	if !l.Allow(ctx, "k") {
		t.Fatal("first Allow() = false")
	}
	if l.Allow(ctx, "k") {
		t.Fatal("second Allow() = true with a spent bucket")
	}
	time.Sleep(120 * time.Millisecond)
	if !l.Allow(ctx, "k") {
		t.Error("Allow() after the idle window = false")
	}
}
