// Package broadcast is the low-latency, push-capable mirror of orders. It
// keeps one copy of each order under its shop index and one under its
// customer index. It is a derived cache: the durable store stays
// authoritative and mirror write failures are never fatal to callers.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/fanout"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// IndexKind names one of the two mirror indices.
type IndexKind string

const (
	ShopIndex     IndexKind = "shopOrders"
	CustomerIndex IndexKind = "customerOrders"
)

// IndexKey addresses the set of mirrored orders for one shop or customer.
type IndexKey struct {
	Kind IndexKind
	ID   string
}

func ShopKey(shopID string) IndexKey         { return IndexKey{Kind: ShopIndex, ID: shopID} }
func CustomerKey(customerID string) IndexKey { return IndexKey{Kind: CustomerIndex, ID: customerID} }

// Path is "shopOrders/{shopId}" or "customerOrders/{customerId}".
func (k IndexKey) Path() string { return string(k.Kind) + "/" + k.ID }

// RecordPath is the path of a single mirrored order under k.
func (k IndexKey) RecordPath(orderID string) string { return k.Path() + "/" + orderID }

func (k IndexKey) String() string { return k.Path() }

// KeysFor returns the two index keys an order is mirrored under.
func KeysFor(o orders.Order) [2]IndexKey {
	return [2]IndexKey{ShopKey(o.ShopID), CustomerKey(o.CustomerID)}
}

// Listener receives the full current set of orders under a key.
type Listener func([]orders.Order)

// Handle is a live subscription.
type Handle interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe()
	// Done is closed once the subscription has ended, whether through
	// Unsubscribe or because the store lost the push channel.
	Done() <-chan struct{}
}

// Store is implemented by RedisStore and MemoryStore.
type Store interface {
	UpsertMirror(ctx context.Context, o orders.Order) error
	Snapshot(ctx context.Context, key IndexKey) ([]orders.Order, error)
	Subscribe(ctx context.Context, key IndexKey, fn Listener) (Handle, error)
}

// Encode produces the payload written under both index keys.
func Encode(o orders.Order) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode mirror payload: %w", err)
	}
	return b, nil
}

func decodeSet(payloads map[string][]byte) ([]orders.Order, error) {
	ids := make([]string, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]orders.Order, 0, len(payloads))
	for _, id := range ids {
		var o orders.Order
		if err := json.Unmarshal(payloads[id], &o); err != nil {
			return nil, fmt.Errorf("decode mirror %s: %w", id, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// subscription is the Handle shared by both stores.
type subscription struct {
	key     IndexKey
	mailbox *fanout.Mailbox[[]orders.Order]
	onStop  func()

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func newSubscription(key IndexKey, fn Listener, log *zap.Logger) *subscription {
	return &subscription{
		key:     key,
		mailbox: fanout.NewMailbox(func(list []orders.Order) { fn(list) }, log.With(zap.String("index", key.Path()))),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (s *subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.onStop != nil {
			s.onStop()
		}
		s.end()
	})
}

func (s *subscription) Done() <-chan struct{} { return s.doneCh }

func (s *subscription) end() {
	s.doneOnce.Do(func() {
		close(s.doneCh)
		s.mailbox.Stop()
	})
}

func (s *subscription) deliver(list []orders.Order) {
	select {
	case <-s.doneCh:
		return
	default:
	}
	s.mailbox.Post(list)
}
