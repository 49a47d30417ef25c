package coordinator

import (
	"time"

	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/idempotency"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/lifecycle"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = rec }
}

// WithIdempotency enables Idempotency-Key handling on submissions.
func WithIdempotency(store *idempotency.Store) Option {
	return func(c *Coordinator) { c.idem = store }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

// WithPublishTimeout bounds each asynchronous change publication.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

// SubmitOption tunes a single SubmitNewOrder call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	idempotencyKey string
	correlationID  string
}

// WithIdempotencyKey makes a replay of the same key return the order the
// first call created.
func WithIdempotencyKey(key string) SubmitOption {
	return func(o *submitOptions) { o.idempotencyKey = key }
}

func WithSubmitCorrelationID(id string) SubmitOption {
	return func(o *submitOptions) { o.correlationID = id }
}

// ChangeOption tunes a single ApplyStatusChange call.
type ChangeOption func(*changeOptions)

type changeOptions struct {
	expected      orders.Status
	actor         lifecycle.Actor
	correlationID string
}

// WithExpectedStatus fails the call as stale unless the order is still in s.
// Clients pass the status they last rendered.
func WithExpectedStatus(s orders.Status) ChangeOption {
	return func(o *changeOptions) { o.expected = s }
}

// AsCustomer applies the customer cancellation rules.
func AsCustomer(customerID string) ChangeOption {
	return func(o *changeOptions) { o.actor = lifecycle.Customer(customerID) }
}

func AsActor(a lifecycle.Actor) ChangeOption {
	return func(o *changeOptions) { o.actor = a }
}

func WithCorrelationID(id string) ChangeOption {
	return func(o *changeOptions) { o.correlationID = id }
}
