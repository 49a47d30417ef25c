package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/broadcast"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/fanout"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// Mode is where a watch currently gets its data from.
type Mode string

const (
	ModeConnecting Mode = "connecting"
	ModePush       Mode = "push"
	ModePolling    Mode = "polling"
	ModeClosed     Mode = "closed"
)

// Watch is one live view. Unsubscribe ends it.
type Watch struct {
	m        *Manager
	key      broadcast.IndexKey
	statuses []orders.Status
	log      *zap.Logger
	out      *fanout.Mailbox[[]orders.Order]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// gen invalidates deliveries from abandoned push attempts
	gen atomic.Uint64

	mu   sync.Mutex
	mode Mode
	last []byte
	// pushed is the latest mirror set; durable holds orders read from the
	// durable store that the mirror has not caught up with yet.
	pushed  []orders.Order
	durable map[string]orders.Order
}

type pushAttempt struct {
	handle broadcast.Handle
	first  chan struct{}
}

func newWatch(m *Manager, key broadcast.IndexKey, statuses []orders.Status, onUpdate func([]orders.Order)) *Watch {
	ctx, cancel := context.WithCancel(context.Background())
	log := m.log.With(zap.String("index", key.Path()))
	return &Watch{
		m:        m,
		key:      key,
		statuses: statuses,
		log:      log,
		out:      fanout.NewMailbox(onUpdate, log),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		mode:     ModeConnecting,
	}
}

// Mode reports the current data source.
func (w *Watch) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Unsubscribe stops the watch. It is idempotent and may be called from
// inside the update callback.
func (w *Watch) Unsubscribe() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
		w.out.Stop()
		w.setMode(ModeClosed)
		w.m.forget(w)
	})
}

func (w *Watch) setMode(next Mode) {
	w.mu.Lock()
	prev := w.mode
	w.mode = next
	w.mu.Unlock()
	if prev == next {
		return
	}
	switch {
	case next == ModePolling:
		w.m.metrics.Incr(metrics.SubscriptionFallbacks, metrics.Dimension{Name: "Index", Value: string(w.key.Kind)})
		w.log.Warn("push unavailable, polling durable store", zap.String("from", string(prev)))
	case next == ModePush && prev == ModePolling:
		w.m.metrics.Incr(metrics.SubscriptionRecovered, metrics.Dimension{Name: "Index", Value: string(w.key.Kind)})
		w.log.Info("push restored")
	}
}

func (w *Watch) run() {
	defer close(w.done)

	att := w.connect()
	for {
		if att == nil {
			if att = w.pollUntilRecovered(); att == nil {
				return
			}
		}
		w.setMode(ModePush)
		select {
		case <-w.ctx.Done():
			att.handle.Unsubscribe()
			return
		case <-att.handle.Done():
			w.gen.Add(1)
			w.log.Warn("push subscription ended")
			att = nil
		}
	}
}

// connect makes the first push attempt and waits up to the grace period for
// it to deliver.
func (w *Watch) connect() *pushAttempt {
	att, err := w.subscribe()
	if err != nil {
		w.log.Warn("subscribe failed", zap.Error(err))
		return nil
	}
	grace := time.NewTimer(w.m.grace)
	defer grace.Stop()
	select {
	case <-att.first:
		return att
	case <-att.handle.Done():
	case <-grace.C:
		w.log.Warn("no push event within grace period", zap.Duration("grace", w.m.grace))
	case <-w.ctx.Done():
	}
	w.abandon(att)
	return nil
}

// pollUntilRecovered polls the durable store until a new push attempt
// delivers. It returns nil once the watch is cancelled.
func (w *Watch) pollUntilRecovered() *pushAttempt {
	w.setMode(ModePolling)
	limiter := rate.NewLimiter(rate.Every(w.m.resubscribeEvery), 1)
	// the failed attempt that got us here used the initial token
	limiter.Allow()

	ticker := time.NewTicker(w.m.pollInterval)
	defer ticker.Stop()
	retry := time.NewTimer(limiter.Reserve().Delay())
	defer retry.Stop()

	var (
		att    *pushAttempt
		firstC <-chan struct{}
		doneC  <-chan struct{}
	)
	w.poll()
	for {
		select {
		case <-w.ctx.Done():
			if att != nil {
				w.abandon(att)
			}
			return nil

		case <-ticker.C:
			w.poll()

		case <-retry.C:
			a, err := w.subscribe()
			if err != nil {
				w.log.Debug("resubscribe failed", zap.Error(err))
				retry.Reset(limiter.Reserve().Delay())
				continue
			}
			att, firstC, doneC = a, a.first, a.handle.Done()

		case <-firstC:
			w.reconcile()
			return att

		case <-doneC:
			w.abandon(att)
			att, firstC, doneC = nil, nil, nil
			retry.Reset(limiter.Reserve().Delay())
		}
	}
}

func (w *Watch) subscribe() (*pushAttempt, error) {
	gen := w.gen.Add(1)
	att := &pushAttempt{first: make(chan struct{})}
	var firstOnce sync.Once
	h, err := w.m.mirror.Subscribe(w.ctx, w.key, func(list []orders.Order) {
		if w.gen.Load() != gen {
			return
		}
		w.emit(w.mergePushed(list))
		firstOnce.Do(func() { close(att.first) })
	})
	if err != nil {
		return nil, err
	}
	att.handle = h
	return att, nil
}

func (w *Watch) abandon(att *pushAttempt) {
	w.gen.Add(1)
	att.handle.Unsubscribe()
}

func (w *Watch) query() ([]orders.Order, error) {
	ctx, cancel := context.WithTimeout(w.ctx, w.m.pollInterval)
	defer cancel()

	switch w.key.Kind {
	case broadcast.ShopIndex:
		return w.m.durable.QueryByShop(ctx, w.key.ID, w.statuses...)
	default:
		return w.m.durable.QueryByCustomer(ctx, w.key.ID)
	}
}

func (w *Watch) poll() {
	list, err := w.query()
	if err != nil {
		if w.ctx.Err() == nil {
			w.log.Warn("poll failed", zap.Error(err))
		}
		return
	}
	w.rememberDurable(list)
	w.emit(list)
}

// reconcile runs once push is back. Writes that missed the mirror while it
// was down are kept in view until the mirror holds the same or a newer
// version.
func (w *Watch) reconcile() {
	list, err := w.query()
	if err != nil {
		if w.ctx.Err() == nil {
			w.log.Warn("reconcile failed, keeping last durable view", zap.Error(err))
		}
	} else {
		w.rememberDurable(list)
	}
	w.mu.Lock()
	pushed := w.pushed
	w.mu.Unlock()
	w.emit(w.mergePushed(pushed))
}

func (w *Watch) rememberDurable(list []orders.Order) {
	byID := make(map[string]orders.Order, len(list))
	for _, o := range list {
		byID[o.ID] = o
	}
	w.mu.Lock()
	w.durable = byID
	w.mu.Unlock()
}

// mergePushed overlays durable reads on a mirror set, keeping the higher
// version of each order. Durable entries the mirror has caught up with are
// dropped.
func (w *Watch) mergePushed(list []orders.Order) []orders.Order {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pushed = list
	if len(w.durable) == 0 {
		return list
	}

	merged := make([]orders.Order, 0, len(list)+len(w.durable))
	seen := make(map[string]bool, len(list))
	for _, o := range list {
		seen[o.ID] = true
		if d, ok := w.durable[o.ID]; ok {
			if d.Version() > o.Version() {
				merged = append(merged, d)
				continue
			}
			delete(w.durable, o.ID)
		}
		merged = append(merged, o)
	}
	for id, d := range w.durable {
		if !seen[id] {
			merged = append(merged, d)
		}
	}
	return merged
}

// emit filters, sorts and forwards list unless it equals the previous one.
func (w *Watch) emit(list []orders.Order) {
	out := make([]orders.Order, 0, len(list))
	out = append(out, orders.FilterByStatus(list, w.statuses...)...)
	orders.SortForDisplay(out)

	encoded, err := json.Marshal(out)
	if err != nil {
		w.log.Error("encode order set", zap.Error(err))
		return
	}
	w.mu.Lock()
	if w.last != nil && bytes.Equal(w.last, encoded) {
		w.mu.Unlock()
		return
	}
	w.last = encoded
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	w.out.Post(out)
}
