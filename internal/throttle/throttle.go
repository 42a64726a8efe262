// Package throttle decides whether a product view should bump the view counter.
package throttle

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"marketplace/internal/clock"

	"github.com/google/uuid"
)

const (
	DefaultCooldown = time.Second
	DefaultCapacity = 100_000
)

// Tracker remembers when a client last had a view of a product counted
type Tracker interface {
	// ShouldCount reports whether this view should increment the counter and,
	// if so, records it as the last counted view.
	ShouldCount(ctx context.Context, clientID string, productID uuid.UUID) (bool, error)
}

type entry struct {
	key       string
	countedAt time.Time
}

// MemoryTracker is a bounded in-process Tracker. Entries expire after the
// cooldown and the oldest entry is evicted when capacity is reached.
type MemoryTracker struct {
	mu       sync.Mutex
	cooldown time.Duration
	capacity int
	clock    clock.Clock
	entries  map[string]*list.Element
	order    *list.List // oldest countedAt at the front
}

// Option configures a MemoryTracker
type Option func(*MemoryTracker)

func WithClock(c clock.Clock) Option {
	return func(t *MemoryTracker) {
		t.clock = c
	}
}

func WithCapacity(n int) Option {
	return func(t *MemoryTracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// NewMemoryTracker creates an in-memory tracker with the given cooldown
func NewMemoryTracker(cooldown time.Duration, opts ...Option) *MemoryTracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	t := &MemoryTracker{
		cooldown: cooldown,
		capacity: DefaultCapacity,
		clock:    clock.New(),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *MemoryTracker) ShouldCount(_ context.Context, clientID string, productID uuid.UUID) (bool, error) {
	key := viewKey(clientID, productID)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.evictExpired(now)

	if el, ok := t.entries[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.countedAt) <= t.cooldown {
			return false, nil
		}
		e.countedAt = now
		t.order.MoveToBack(el)
		return true, nil
	}

	if t.order.Len() >= t.capacity {
		t.removeElement(t.order.Front())
	}
	t.entries[key] = t.order.PushBack(&entry{key: key, countedAt: now})
	return true, nil
}

// Len returns the number of tracked (client, product) pairs
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

func (t *MemoryTracker) evictExpired(now time.Time) {
	for el := t.order.Front(); el != nil; el = t.order.Front() {
		if now.Sub(el.Value.(*entry).countedAt) <= t.cooldown {
			return
		}
		t.removeElement(el)
	}
}

func (t *MemoryTracker) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	t.order.Remove(el)
	delete(t.entries, el.Value.(*entry).key)
}

func viewKey(clientID string, productID uuid.UUID) string {
	return strings.ToLower(strings.TrimSpace(clientID)) + "|" + productID.String()
}
