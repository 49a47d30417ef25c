// Package changefeed carries committed order changes from the durable store
// to the broadcast mirror.
package changefeed

import (
	"context"
	"time"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// Change is published after every committed durable write. Consumers treat it
// as a hint and re-read the durable record before mirroring.
type Change struct {
	OrderID       string        `json:"order_id"`
	ShopID        string        `json:"shop_id"`
	CustomerID    string        `json:"customer_id"`
	Status        orders.Status `json:"status"`
	Version       int           `json:"version"`
	At            time.Time     `json:"at"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

func ChangeOf(o orders.Order) Change {
	return Change{
		OrderID:    o.ID,
		ShopID:     o.ShopID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Version:    o.Version(),
		At:         o.LatestTimestamp(),
	}
}

// Publisher hands a change to whatever feeds the projector.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Nop is used when the table's own stream feeds the projector.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }
