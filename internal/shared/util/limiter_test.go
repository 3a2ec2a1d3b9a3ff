package util

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// 10 tokens per second, burst of 2
	l := NewLimiter(10, 2)

	if !l.Allow(1) {
		t.Error("expected first token to be allowed")
	}
	if !l.Allow(1) {
		t.Error("expected second token to be allowed (burst)")
	}
	if l.Allow(1) {
		t.Error("expected third token to be rejected (burst exhausted)")
	}

	time.Sleep(150 * time.Millisecond)
	if !l.Allow(1) {
		t.Error("expected token to be refilled after wait")
	}
}

func TestQueryLimiterDisabled(t *testing.T) {
	l := NewQueryLimiter(0)
	if l != nil {
		t.Fatal("expected nil limiter for qps 0")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow(1) {
			t.Fatal("expected nil limiter to admit everything")
		}
	}
	if err := l.Wait(context.Background(), 1); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewQueryLimiter(1)
	if !l.Allow(1) {
		t.Fatal("expected burst token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, 1); err == nil {
		t.Fatal("expected wait to fail once the context deadline is shorter than the refill")
	}
}
