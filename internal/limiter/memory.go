package limiter

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

type memEntry struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is a single-node limiter used when neither Postgres nor Redis is configured.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memEntry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory constructs an in-process limiter with the same semantics as PG.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		entries:  make(map[string]*memEntry),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func memKey(scope string, keyHash []byte) string {
	return scope + ":" + hex.EncodeToString(keyHash)
}

// Allow reports whether attempts are currently allowed.
func (l *Memory) Allow(_ context.Context, scope string, keyHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[memKey(scope, keyHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the key.
func (l *Memory) Success(_ context.Context, scope string, keyHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, memKey(scope, keyHash))
	return nil
}

// Failure records a failed attempt and blocks once maxFails is reached.
func (l *Memory) Failure(_ context.Context, scope string, keyHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	k := memKey(scope, keyHash)
	e, ok := l.entries[k]
	if !ok {
		e = &memEntry{}
		l.entries[k] = e
	}
	if now.Sub(e.updatedAt) > l.window {
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now

	if e.fails < l.maxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(l.blockFor)
	return true, l.blockFor, nil
}

// sweep drops entries that are neither blocked nor inside the window. Caller holds mu.
func (l *Memory) sweep(now time.Time) {
	for k, e := range l.entries {
		if !e.blockedUntil.After(now) && now.Sub(e.updatedAt) > l.window {
			delete(l.entries, k)
		}
	}
}
