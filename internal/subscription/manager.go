// Package subscription serves live, sorted order lists to clients. A watch
// listens to the broadcast mirror and falls back to polling the durable
// store while the mirror cannot deliver.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/broadcast"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

const (
	DefaultGracePeriod         = 3 * time.Second
	DefaultPollInterval        = 5 * time.Second
	DefaultResubscribeInterval = 10 * time.Second
)

// ErrClosed is returned by Watch calls on a closed Manager.
var ErrClosed = errors.New("subscription manager closed")

// DurableSource is the polling fallback. *orders.Store implements it.
type DurableSource interface {
	QueryByShop(ctx context.Context, shopID string, statuses ...orders.Status) ([]orders.Order, error)
	QueryByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
}

type Manager struct {
	mirror  broadcast.Store
	durable DurableSource
	log     *zap.Logger
	metrics metrics.Recorder

	grace            time.Duration
	pollInterval     time.Duration
	resubscribeEvery time.Duration

	mu      sync.Mutex
	closed  bool
	watches map[*Watch]struct{}
}

type Option func(*Manager)

// WithGracePeriod sets how long a push subscription may stay silent before
// the watch starts polling.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithResubscribeInterval paces push reconnection attempts while polling.
func WithResubscribeInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.resubscribeEvery = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = rec }
}

func NewManager(mirror broadcast.Store, durable DurableSource, opts ...Option) *Manager {
	m := &Manager{
		mirror:           mirror,
		durable:          durable,
		log:              zap.NewNop(),
		metrics:          metrics.Nop{},
		grace:            DefaultGracePeriod,
		pollInterval:     DefaultPollInterval,
		resubscribeEvery: DefaultResubscribeInterval,
		watches:          map[*Watch]struct{}{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WatchOption narrows a single watch.
type WatchOption func(*watchOptions)

type watchOptions struct {
	statuses []orders.Status
}

// WithStatuses only delivers orders in one of statuses.
func WithStatuses(statuses ...orders.Status) WatchOption {
	return func(o *watchOptions) { o.statuses = append(o.statuses, statuses...) }
}

// WatchShopOrders delivers the shop's orders to onUpdate every time the set
// changes, sorted for display.
func (m *Manager) WatchShopOrders(shopID string, onUpdate func([]orders.Order), opts ...WatchOption) (*Watch, error) {
	return m.watch(broadcast.ShopKey(shopID), onUpdate, opts)
}

// WatchCustomerOrders is WatchShopOrders for a customer's order history.
func (m *Manager) WatchCustomerOrders(customerID string, onUpdate func([]orders.Order), opts ...WatchOption) (*Watch, error) {
	return m.watch(broadcast.CustomerKey(customerID), onUpdate, opts)
}

func (m *Manager) watch(key broadcast.IndexKey, onUpdate func([]orders.Order), opts []WatchOption) (*Watch, error) {
	if key.ID == "" {
		return nil, fmt.Errorf("watch %s: empty id", key.Kind)
	}
	if onUpdate == nil {
		return nil, fmt.Errorf("watch %s: nil callback", key.Path())
	}
	var wo watchOptions
	for _, opt := range opts {
		opt(&wo)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	w := newWatch(m, key, wo.statuses, onUpdate)
	m.watches[w] = struct{}{}
	go w.run()
	return w, nil
}

func (m *Manager) forget(w *Watch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, w)
}

// Close ends every watch. Later Watch calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	live := make([]*Watch, 0, len(m.watches))
	for w := range m.watches {
		live = append(live, w)
	}
	m.mu.Unlock()

	for _, w := range live {
		w.Unsubscribe()
	}
}
