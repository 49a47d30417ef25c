package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// ErrUnavailable is returned while a MemoryStore is switched off.
var ErrUnavailable = errors.New("broadcast store unavailable")

// MemoryStore is an in-process Store for local runs and tests. It can be
// switched off to exercise the polling fallback.
type MemoryStore struct {
	log *zap.Logger

	mu        sync.Mutex
	available bool
	indexes   map[string]map[string][]byte
	versions  map[string]int
	subs      map[string]map[*subscription]struct{}
}

func NewMemoryStore(log *zap.Logger) *MemoryStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		log:       log,
		available: true,
		indexes:   map[string]map[string][]byte{},
		versions:  map[string]int{},
		subs:      map[string]map[*subscription]struct{}{},
	}
}

// SetAvailable toggles the store. Switching it off ends every live
// subscription and makes writes and new subscriptions fail.
func (m *MemoryStore) SetAvailable(available bool) {
	m.mu.Lock()
	m.available = available
	var ended []*subscription
	if !available {
		for path, set := range m.subs {
			for s := range set {
				ended = append(ended, s)
			}
			delete(m.subs, path)
		}
	}
	m.mu.Unlock()

	for _, s := range ended {
		s.end()
	}
}

// UpsertMirror writes the same payload under both indices and notifies
// their subscribers. A payload older than the mirrored version is ignored.
func (m *MemoryStore) UpsertMirror(ctx context.Context, o orders.Order) error {
	payload, err := Encode(o)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrBroadcastMirrorFailed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return fmt.Errorf("mirror order %s: %w: %w", o.ID, apperr.ErrBroadcastMirrorFailed, ErrUnavailable)
	}
	if m.versions[o.ID] > o.Version() {
		return nil
	}
	m.versions[o.ID] = o.Version()

	// sets are posted under the lock so subscribers see writes in order
	for _, key := range KeysFor(o) {
		idx, ok := m.indexes[key.Path()]
		if !ok {
			idx = map[string][]byte{}
			m.indexes[key.Path()] = idx
		}
		idx[o.ID] = payload

		if len(m.subs[key.Path()]) == 0 {
			continue
		}
		set, err := decodeSet(idx)
		if err != nil {
			m.log.Error("decode mirror set", zap.String("index", key.Path()), zap.Error(err))
			continue
		}
		for sub := range m.subs[key.Path()] {
			sub.deliver(set)
		}
	}
	return nil
}

// Payload returns the raw mirrored payload at key/orderID.
func (m *MemoryStore) Payload(key IndexKey, orderID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.indexes[key.Path()][orderID]
	return b, ok
}

func (m *MemoryStore) Snapshot(ctx context.Context, key IndexKey) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return nil, ErrUnavailable
	}
	return decodeSet(m.indexes[key.Path()])
}

// Subscribe registers fn and immediately delivers the current set.
func (m *MemoryStore) Subscribe(ctx context.Context, key IndexKey, fn Listener) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return nil, fmt.Errorf("subscribe %s: %w", key.Path(), ErrUnavailable)
	}
	set, err := decodeSet(m.indexes[key.Path()])
	if err != nil {
		return nil, err
	}

	s := newSubscription(key, fn, m.log)
	s.onStop = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[key.Path()], s)
	}
	if m.subs[key.Path()] == nil {
		m.subs[key.Path()] = map[*subscription]struct{}{}
	}
	m.subs[key.Path()][s] = struct{}{}
	s.deliver(set)
	return s, nil
}
