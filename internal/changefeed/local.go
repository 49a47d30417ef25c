package changefeed

import "context"

// LocalPublisher projects in-process. Used when running without a queue.
type LocalPublisher struct {
	projector *Projector
}

func NewLocalPublisher(p *Projector) *LocalPublisher {
	return &LocalPublisher{projector: p}
}

func (l *LocalPublisher) Publish(ctx context.Context, c Change) error {
	return l.projector.Project(ctx, c.OrderID)
}
