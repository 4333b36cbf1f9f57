package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemory_BlocksAfterMaxFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(time.Minute, 3, 5*time.Minute)
	ip := HashIP("203.0.113.7")

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, ScopeInvite, ip)
		if err != nil || blocked {
			t.Fatalf("attempt %d: blocked=%v err=%v", i, blocked, err)
		}
	}
	blocked, retry, err := l.Failure(ctx, ScopeInvite, ip)
	if err != nil || !blocked || retry <= 0 {
		t.Fatalf("third failure must block: blocked=%v retry=%v err=%v", blocked, retry, err)
	}

	allowed, retry, err := l.Allow(ctx, ScopeInvite, ip)
	if err != nil || allowed || retry <= 0 {
		t.Fatalf("Allow during block: allowed=%v retry=%v err=%v", allowed, retry, err)
	}

	// Another client is unaffected.
	allowed, _, err = l.Allow(ctx, ScopeInvite, HashIP("203.0.113.8"))
	if err != nil || !allowed {
		t.Fatalf("other ip must be allowed: %v %v", allowed, err)
	}
}

func TestMemory_SuccessResets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(time.Minute, 2, time.Minute)
	ip := HashIP("198.51.100.1")

	if _, _, err := l.Failure(ctx, ScopeInvite, ip); err != nil {
		t.Fatal(err)
	}
	if err := l.Success(ctx, ScopeInvite, ip); err != nil {
		t.Fatal(err)
	}
	// Counter restarted: a single failure must not block.
	blocked, _, err := l.Failure(ctx, ScopeInvite, ip)
	if err != nil || blocked {
		t.Fatalf("blocked=%v err=%v after reset", blocked, err)
	}
}

func TestMemory_WindowExpiryResetsCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewMemory(time.Minute, 2, time.Minute)
	base := time.Unix(1700000000, 0)
	l.now = func() time.Time { return base }
	ip := HashIP("198.51.100.2")

	if _, _, err := l.Failure(ctx, ScopeInvite, ip); err != nil {
		t.Fatal(err)
	}
	// Next failure lands outside the window: count restarts at 1, no block.
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	blocked, _, err := l.Failure(ctx, ScopeInvite, ip)
	if err != nil || blocked {
		t.Fatalf("stale window must not accumulate: blocked=%v err=%v", blocked, err)
	}
}
