// Package realtime propagates data changes to interested listeners, both
// inside the process and, through Redis, across instances.
package realtime

import (
	"context"
	"sync"
)

// Entity names carried in Change.Entity.
const (
	EntityTask      = "task"
	EntityCondition = "condition"
	EntityEvent     = "event"
	EntityAccount   = "account"
)

// Op names carried in Change.Op.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// Change describes one write to an owner's data. Listeners refetch what
// they need; the change itself carries no row data.
type Change struct {
	OwnerID string `json:"ownerId"`
	Entity  string `json:"entity"`
	Op      string `json:"op"`
	ID      string `json:"id,omitempty"`
	// Date is the affected calendar day for task changes.
	Date string `json:"date,omitempty"`
}

// Bus delivers published changes to registered callbacks.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	// OnChange registers fn and returns a function that unregisters it.
	OnChange(fn func(Change)) (cancel func())
}

// LocalBus is an in-process Bus. Callbacks run synchronously on the
// publishing goroutine in registration order.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Change)
	order    []int
}

var _ Bus = (*LocalBus)(nil)

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Change))}
}

func (b *LocalBus) Publish(_ context.Context, c Change) error {
	b.dispatch(c)
	return nil
}

func (b *LocalBus) OnChange(fn func(Change)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *LocalBus) dispatch(c Change) {
	b.mu.RLock()
	fns := make([]func(Change), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}
