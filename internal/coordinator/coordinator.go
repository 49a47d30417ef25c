// Package coordinator orchestrates order writes across the durable store and
// the broadcast mirror. The durable write decides the outcome of every call;
// mirroring happens afterwards, asynchronously, and its failures are only
// logged and counted.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/changefeed"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/idempotency"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/lifecycle"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/validation"
)

const defaultPublishTimeout = 5 * time.Second

// Durable is the authoritative order store. *orders.Store implements it.
type Durable interface {
	Create(ctx context.Context, o orders.Order) error
	CreateWithIdempotency(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, o orders.Order) error
	GetByID(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, expected, target orders.Status, at time.Time) (*orders.Order, error)
	QueryByShop(ctx context.Context, shopID string, statuses ...orders.Status) ([]orders.Order, error)
	QueryByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
}

type Coordinator struct {
	durable   Durable
	publisher changefeed.Publisher
	idem      *idempotency.Store
	validate  *validatorv10.Validate
	log       *zap.Logger
	metrics   metrics.Recorder
	retry     RetryPolicy
	now       func() time.Time
	newID     func() string

	publishTimeout time.Duration
	inflight       sync.WaitGroup
}

func New(durable Durable, publisher changefeed.Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		durable:        durable,
		publisher:      publisher,
		validate:       validation.New(),
		log:            zap.NewNop(),
		metrics:        metrics.Nop{},
		retry:          DefaultRetryPolicy(),
		now:            time.Now,
		newID:          uuid.NewString,
		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.publisher == nil {
		c.publisher = changefeed.Nop{}
	}
	return c
}

// SubmitResult is the outcome of SubmitNewOrder. Replayed is set when an
// idempotency key matched an earlier submission and Order is that
// submission's order.
type SubmitResult struct {
	Order    orders.Order
	Replayed bool
}

// SubmitNewOrder validates req and creates the order in status new. The call
// fails only if the durable write fails.
func (c *Coordinator) SubmitNewOrder(ctx context.Context, req validation.SubmitOrderRequest, opts ...SubmitOption) (SubmitResult, error) {
	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}

	if err := validation.Check(c.validate, req); err != nil {
		return SubmitResult{}, err
	}

	now := c.now().UTC()
	items := make([]orders.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.Item{
			ItemID:    it.ItemID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	order := orders.Order{
		ID:                  c.newID(),
		CustomerID:          req.CustomerID,
		ShopID:              req.ShopID,
		Items:               items,
		TotalAmount:         orders.TotalOf(items),
		Status:              orders.StatusNew,
		StatusTimestamps:    map[orders.Status]time.Time{orders.StatusNew: now},
		PaymentMethod:       req.PaymentMethod,
		PickupOption:        req.PickupOption,
		SpecialInstructions: req.SpecialInstructions,
	}

	log := c.log.With(zap.String("order_id", order.ID), zap.String("shop_id", order.ShopID))

	var (
		result SubmitResult
		err    error
	)
	if so.idempotencyKey != "" && c.idem != nil {
		result, err = c.createIdempotent(ctx, order, req, so.idempotencyKey)
	} else {
		result, err = c.create(ctx, order)
	}
	if err != nil {
		log.Error("order submission failed", zap.Error(err))
		return SubmitResult{}, err
	}
	if result.Replayed {
		log.Info("idempotent replay", zap.String("original_order_id", result.Order.ID))
		return result, nil
	}

	c.metrics.Incr(metrics.OrdersSubmitted)
	log.Info("order submitted", zap.Float64("total", order.TotalAmount))
	c.publish(result.Order, so.correlationID)
	return result, nil
}

func (c *Coordinator) create(ctx context.Context, order orders.Order) (SubmitResult, error) {
	uncertain := false
	return withRetry(ctx, c, "create", func(attempt int) (SubmitResult, error) {
		err := c.durable.Create(ctx, order)
		if uncertain && errors.Is(err, apperr.ErrAlreadyExists) {
			if stored, ok := c.landed(ctx, order); ok {
				return SubmitResult{Order: stored}, nil
			}
		}
		if apperr.Retryable(err) {
			uncertain = true
		}
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Order: order}, nil
	})
}

func (c *Coordinator) createIdempotent(ctx context.Context, order orders.Order, req validation.SubmitOrderRequest, key string) (SubmitResult, error) {
	hash, err := idempotency.HashRequest(req)
	if err != nil {
		return SubmitResult{}, err
	}
	record := c.idem.NewRecord(key, order.ID, hash)

	result, err := withRetry(ctx, c, "create", func(attempt int) (SubmitResult, error) {
		err := c.durable.CreateWithIdempotency(ctx, c.idem.TableName(), record, order)
		if errors.Is(err, apperr.ErrDuplicateRequest) {
			return c.replay(ctx, key, hash, order.ID)
		}
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Order: order}, nil
	})
	if err != nil || result.Replayed {
		return result, err
	}

	if err := c.idem.MarkDone(ctx, key, http.StatusCreated); err != nil {
		c.log.Warn("mark idempotency record done", zap.String("idempotency_key", key), zap.Error(err))
	}
	return result, nil
}

// replay resolves a key that already has a record. A record pointing at
// ownID means an earlier attempt of this very call landed.
func (c *Coordinator) replay(ctx context.Context, key, hash, ownID string) (SubmitResult, error) {
	rec, err := c.idem.Get(ctx, key)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %w", apperr.ErrDurableUnavailable, err)
	}
	if rec == nil {
		// expired between the write and the read; let the retry create it
		return SubmitResult{}, fmt.Errorf("%w: idempotency record %s vanished", apperr.ErrDurableUnavailable, key)
	}
	if rec.RequestHash != "" && rec.RequestHash != hash {
		return SubmitResult{}, &validation.Error{Fields: map[string]string{
			"Idempotency-Key": "key was already used for a different request",
		}}
	}
	stored, err := c.durable.GetByID(ctx, rec.OrderID)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{Order: *stored, Replayed: rec.OrderID != ownID}, nil
}

// landed reports whether order is already stored exactly as this call
// wrote it.
func (c *Coordinator) landed(ctx context.Context, order orders.Order) (orders.Order, bool) {
	stored, err := c.durable.GetByID(ctx, order.ID)
	if err != nil {
		return orders.Order{}, false
	}
	if stored.CustomerID != order.CustomerID || !stored.CreatedAt().Equal(order.CreatedAt()) {
		return orders.Order{}, false
	}
	return *stored, true
}

// ApplyStatusChange moves an order to target. The write is conditioned on
// the status this call read, so a concurrent writer makes it fail with
// apperr.ErrStaleTransition instead of being overwritten.
func (c *Coordinator) ApplyStatusChange(ctx context.Context, orderID string, target orders.Status, opts ...ChangeOption) (orders.Order, error) {
	co := changeOptions{actor: lifecycle.Vendor()}
	for _, opt := range opts {
		opt(&co)
	}
	log := c.log.With(zap.String("order_id", orderID), zap.String("target", target.String()))

	if !target.Valid() {
		return orders.Order{}, &validation.Error{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", target)}}
	}

	current, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}

	if co.expected != "" && co.expected != current.Status {
		c.metrics.Incr(metrics.StaleTransitions)
		return orders.Order{}, fmt.Errorf("order %s is %s, caller expected %s: %w",
			orderID, current.Status, co.expected, apperr.ErrStaleTransition)
	}
	if current.Status == target {
		c.metrics.Incr(metrics.StaleTransitions)
		return orders.Order{}, fmt.Errorf("order %s is already %s: %w", orderID, target, apperr.ErrStaleTransition)
	}
	if err := lifecycle.Authorize(co.actor, current, target); err != nil {
		log.Info("status change refused", zap.Error(err))
		return orders.Order{}, err
	}
	next, err := lifecycle.Transition(current, target, c.now())
	if err != nil {
		return orders.Order{}, err
	}
	at := next.StatusTimestamps[target]

	uncertain := false
	updated, err := withRetry(ctx, c, "update_status", func(attempt int) (orders.Order, error) {
		o, err := c.durable.UpdateStatus(ctx, orderID, current.Status, target, at)
		if uncertain && errors.Is(err, apperr.ErrStaleTransition) {
			if stored, gerr := c.durable.GetByID(ctx, orderID); gerr == nil &&
				stored.Status == target && stored.StatusTimestamps[target].Equal(at) {
				return *stored, nil
			}
		}
		if apperr.Retryable(err) {
			uncertain = true
		}
		if err != nil {
			return orders.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrStaleTransition) {
			c.metrics.Incr(metrics.StaleTransitions)
		}
		log.Warn("status change failed", zap.String("from", current.Status.String()), zap.Error(err))
		return orders.Order{}, err
	}

	c.metrics.Incr(metrics.StatusChanges, metrics.Dimension{Name: "Status", Value: target.String()})
	log.Info("status changed", zap.String("from", current.Status.String()), zap.Time("at", at))
	c.publish(updated, co.correlationID)
	return updated, nil
}

// GetOrder reads the authoritative copy of an order.
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return withRetry(ctx, c, "get", func(int) (orders.Order, error) {
		o, err := c.durable.GetByID(ctx, orderID)
		if err != nil {
			return orders.Order{}, err
		}
		return *o, nil
	})
}

// ListShopOrders returns a shop's orders from the durable store in display
// order, optionally restricted to statuses.
func (c *Coordinator) ListShopOrders(ctx context.Context, shopID string, statuses ...orders.Status) ([]orders.Order, error) {
	list, err := withRetry(ctx, c, "query_shop", func(int) ([]orders.Order, error) {
		return c.durable.QueryByShop(ctx, shopID, statuses...)
	})
	if err != nil {
		return nil, err
	}
	orders.SortForDisplay(list)
	return list, nil
}

func (c *Coordinator) ListCustomerOrders(ctx context.Context, customerID string) ([]orders.Order, error) {
	list, err := withRetry(ctx, c, "query_customer", func(int) ([]orders.Order, error) {
		return c.durable.QueryByCustomer(ctx, customerID)
	})
	if err != nil {
		return nil, err
	}
	orders.SortForDisplay(list)
	return list, nil
}

func (c *Coordinator) publish(o orders.Order, correlationID string) {
	change := changefeed.ChangeOf(o)
	change.CorrelationID = correlationID

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
		defer cancel()
		if err := c.publisher.Publish(ctx, change); err != nil {
			c.metrics.Incr(metrics.MirrorFailures)
			c.log.Warn("mirror update failed; durable record stands",
				zap.String("order_id", o.ID),
				zap.String("status", o.Status.String()),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every in-flight change publication has finished.
func (c *Coordinator) Wait() { c.inflight.Wait() }

// Close waits for in-flight publications.
func (c *Coordinator) Close() error {
	c.Wait()
	return nil
}
