package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/broadcast"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

const defaultConcurrency = 8

// OrderReader is the slice of the durable store the projector needs.
type OrderReader interface {
	GetByID(ctx context.Context, orderID string) (*orders.Order, error)
}

// Projector copies durable orders into the broadcast mirror.
type Projector struct {
	durable     OrderReader
	mirror      broadcast.Store
	log         *zap.Logger
	metrics     metrics.Recorder
	concurrency int
}

func NewProjector(durable OrderReader, mirror broadcast.Store, log *zap.Logger, rec metrics.Recorder) *Projector {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Projector{
		durable:     durable,
		mirror:      mirror,
		log:         log,
		metrics:     rec,
		concurrency: defaultConcurrency,
	}
}

// WithConcurrency bounds how many records of a batch are projected at once.
func (p *Projector) WithConcurrency(n int) *Projector {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

// Project mirrors the current durable copy of an order. The mirror refuses
// versions older than what it already holds, so replays are harmless.
func (p *Projector) Project(ctx context.Context, orderID string) error {
	o, err := p.durable.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("read order %s: %w", orderID, err)
	}
	if err := p.mirror.UpsertMirror(ctx, *o); err != nil {
		p.metrics.Incr(metrics.MirrorFailures)
		return fmt.Errorf("%w: order %s: %w", apperr.ErrBroadcastMirrorFailed, orderID, err)
	}
	p.log.Debug("order mirrored",
		zap.String("order_id", o.ID),
		zap.String("status", o.Status.String()),
		zap.Int("version", o.Version()))
	return nil
}

// projectRecord returns nil for records that will never succeed so the
// queue does not redeliver them forever.
func (p *Projector) projectRecord(ctx context.Context, id, orderID string) error {
	err := p.Project(ctx, orderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		p.log.Warn("dropping change for unknown order", zap.String("record", id), zap.String("order_id", orderID))
		return nil
	default:
		p.log.Error("projection failed", zap.String("record", id), zap.String("order_id", orderID), zap.Error(err))
		return err
	}
}

// changeRef is the only part of a Change the projector relies on. The rest
// of the message may come from an older or newer producer.
type changeRef struct {
	OrderID string `json:"order_id"`
}

type job struct {
	id      string
	orderID string
}

// runBatch projects jobs concurrently and returns the ids that failed.
func (p *Projector) runBatch(ctx context.Context, jobs []job) []string {
	var (
		mu     sync.Mutex
		failed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			if err := p.projectRecord(gctx, j.id, j.orderID); err != nil {
				mu.Lock()
				failed = append(failed, j.id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// HandleSQS consumes Change messages and reports per-message failures.
func (p *Projector) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		resp events.SQSEventResponse
		jobs []job
	)
	for _, rec := range ev.Records {
		var c changeRef
		if err := json.Unmarshal([]byte(rec.Body), &c); err != nil || c.OrderID == "" {
			// redelivery cannot fix a malformed body
			p.log.Error("discarding malformed change", zap.String("message_id", rec.MessageId), zap.Error(err))
			continue
		}
		jobs = append(jobs, job{id: rec.MessageId, orderID: c.OrderID})
	}
	for _, id := range p.runBatch(ctx, jobs) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	p.log.Info("sqs batch projected",
		zap.Int("records", len(ev.Records)),
		zap.Int("failed", len(resp.BatchItemFailures)))
	return resp, nil
}

// HandleStream consumes the orders table stream.
func (p *Projector) HandleStream(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var (
		resp events.DynamoDBEventResponse
		jobs []job
	)
	for _, rec := range ev.Records {
		if rec.EventName == string(events.DynamoDBOperationTypeRemove) {
			continue
		}
		key, ok := rec.Change.Keys["order_id"]
		if !ok || key.DataType() != events.DataTypeString {
			p.log.Error("stream record without order_id", zap.String("event_id", rec.EventID))
			continue
		}
		jobs = append(jobs, job{id: rec.Change.SequenceNumber, orderID: key.String()})
	}
	for _, id := range p.runBatch(ctx, jobs) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{ItemIdentifier: id})
	}
	p.log.Info("stream batch projected",
		zap.Int("records", len(ev.Records)),
		zap.Int("failed", len(resp.BatchItemFailures)))
	return resp, nil
}
