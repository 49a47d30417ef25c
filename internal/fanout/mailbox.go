// Package fanout delivers values to listener callbacks without letting a
// slow or failing listener hold up the producer or other listeners.
package fanout

import (
	"sync"

	"go.uber.org/zap"
)

// Mailbox runs fn on its own goroutine with the most recently posted value.
// Posting never blocks; values posted while fn is busy are coalesced so fn
// only sees the latest. A panic inside fn is recovered and logged.
type Mailbox[T any] struct {
	fn  func(T)
	log *zap.Logger

	mu      sync.Mutex
	pending T
	has     bool

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewMailbox[T any](fn func(T), log *zap.Logger) *Mailbox[T] {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mailbox[T]{
		fn:     fn,
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

// Post replaces the pending value and wakes the delivery goroutine.
func (m *Mailbox[T]) Post(v T) {
	select {
	case <-m.done:
		return
	default:
	}
	m.mu.Lock()
	m.pending = v
	m.has = true
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Stop ends delivery without waiting; it may be called from inside fn.
func (m *Mailbox[T]) Stop() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Close stops delivery and waits for an in-flight callback to return. It is
// safe to call more than once, but not from inside fn.
func (m *Mailbox[T]) Close() {
	m.Stop()
	m.wg.Wait()
}

func (m *Mailbox[T]) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}

		m.mu.Lock()
		v, has := m.pending, m.has
		var zero T
		m.pending, m.has = zero, false
		m.mu.Unlock()

		if has {
			m.invoke(v)
		}
	}
}

func (m *Mailbox[T]) invoke(v T) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	m.fn(v)
}
