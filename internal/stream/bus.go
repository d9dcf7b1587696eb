// Package stream implements the per-adapter fan-out of normalized push
// events to registered subscriber callbacks.
package stream

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

const defaultMaxWorkers = 4

// Bus fans events of one kind out to registered callbacks. Each adapter owns
// one bus per event kind; buses are never shared across adapters.
type Bus[T any] struct {
	log        *logrus.Entry
	maxWorkers int

	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(T)
}

// NewBus constructs a bus. A nil log entry falls back to the standard logger.
func NewBus[T any](log *logrus.Entry, maxWorkers int) *Bus[T] {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}
	return &Bus[T]{
		log:        log,
		maxWorkers: maxWorkers,
		mu:         sync.RWMutex{},
		next:       0,
		subs:       make(map[uint64]func(T)),
	}
}

// Subscribe registers a callback and returns its unsubscribe handle. The
// handle is idempotent and safe to call from within the callback itself.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every subscriber registered at call time.
// A panicking callback is logged and does not prevent delivery to the rest.
func (b *Bus[T]) Publish(evt T) {
	b.mu.RLock()
	callbacks := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		callbacks = append(callbacks, fn)
	}
	b.mu.RUnlock()

	if len(callbacks) == 0 {
		return
	}
	if len(callbacks) == 1 {
		b.deliver(callbacks[0], evt)
		return
	}

	workers := b.maxWorkers
	if workers > len(callbacks) {
		workers = len(callbacks)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, fn := range callbacks {
		fn := fn
		p.Go(func() {
			b.deliver(fn, evt)
		})
	}
	p.Wait()
}

func (b *Bus[T]) deliver(fn func(T), evt T) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Warn("subscriber callback panicked")
		}
	}()
	fn(evt)
}

// Len reports the number of registered subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
