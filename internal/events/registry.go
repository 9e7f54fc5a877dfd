package events

import (
	"context"
	"runtime/debug"
	"sync"

	"wamux/internal/constants"

	"github.com/sirupsen/logrus"
)

// Handler receives published events on the publishing goroutine.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Registry holds any number of handlers per kind.
type Registry struct {
	logger logrus.FieldLogger

	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind][]subscription
}

func NewRegistry(logger logrus.FieldLogger) *Registry {
	return &Registry{
		logger: logger,
		subs:   make(map[Kind][]subscription),
	}
}

// Subscribe adds handler for kind and returns a func that removes it.
func (r *Registry) Subscribe(kind Kind, handler Handler) (cancel func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[kind] = append(r.subs[kind], subscription{id: id, handler: handler})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(kind, id) })
	}
}

// SubscribeAll adds handler for every kind.
func (r *Registry) SubscribeAll(handler Handler) (cancel func()) {
	cancels := make([]func(), 0, len(AllKinds))
	for _, k := range AllKinds {
		cancels = append(cancels, r.Subscribe(k, handler))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (r *Registry) remove(kind Kind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[kind]
	for i, s := range subs {
		if s.id == id {
			r.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish calls every handler subscribed to the event's kind in
// subscription order. A panicking handler is logged and skipped.
func (r *Registry) Publish(ctx context.Context, ev Event) {
	if ev.Data == nil {
		return
	}

	r.mu.RLock()
	subs := r.subs[ev.Kind()]
	r.mu.RUnlock()

	for _, s := range subs {
		r.invoke(ctx, s.handler, ev)
	}
}

func (r *Registry) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				constants.LogFieldSession: ev.SessionID,
				constants.LogFieldEvent:   string(ev.Kind()),
				"panic":                   rec,
				"stack":                   string(debug.Stack()),
			}).Error("Event handler panicked")
		}
	}()
	h(ctx, ev)
}

// Count returns how many handlers are subscribed to kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[kind])
}
