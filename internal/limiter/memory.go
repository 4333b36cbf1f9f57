package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter for DSN-less relay runs and tests.
type Memory struct {
	mu       sync.Mutex
	state    map[string]*memEntry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type memEntry struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		state:    make(map[string]*memEntry),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func memKey(scope string, ipHash []byte) string { return scope + "\x00" + string(ipHash) }

func (l *Memory) Allow(_ context.Context, scope string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.state[memKey(scope, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (l *Memory) Success(_ context.Context, scope string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.state, memKey(scope, ipHash))
	return nil
}

func (l *Memory) Failure(_ context.Context, scope string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	k := memKey(scope, ipHash)
	e, ok := l.state[k]
	if !ok || now.Sub(e.updatedAt) > l.window {
		e = &memEntry{}
		l.state[k] = e
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
