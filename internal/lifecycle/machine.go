// Package lifecycle is the order status state machine. It is pure: no I/O,
// no clocks, no shared state. Callers pass the instant to record.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

var edges = map[orders.Status][]orders.Status{
	orders.StatusNew:       {orders.StatusAccepted, orders.StatusCancelled},
	orders.StatusAccepted:  {orders.StatusPreparing, orders.StatusCancelled},
	orders.StatusPreparing: {orders.StatusReady, orders.StatusCancelled},
	orders.StatusReady:     {orders.StatusCompleted, orders.StatusCancelled},
	orders.StatusCompleted: nil,
	orders.StatusCancelled: nil,
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to orders.Status) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next lists the statuses reachable from s in one step.
func Next(s orders.Status) []orders.Status {
	out := make([]orders.Status, len(edges[s]))
	copy(out, edges[s])
	return out
}

// IsTerminal reports whether s has no outgoing edges.
func IsTerminal(s orders.Status) bool {
	next, known := edges[s]
	return known && len(next) == 0
}

// Transition returns a copy of o moved to target with the entry time recorded.
// The recorded time never precedes an earlier status timestamp, so the
// timeline stays non-decreasing even if now comes from a skewed clock.
func Transition(o orders.Order, target orders.Status, now time.Time) (orders.Order, error) {
	if !CanTransition(o.Status, target) {
		return o, fmt.Errorf("%s -> %s: %w", o.Status, target, apperr.ErrInvalidTransition)
	}
	if _, seen := o.StatusTimestamps[target]; seen {
		return o, fmt.Errorf("%s already entered: %w", target, apperr.ErrInvalidTransition)
	}

	at := now.UTC()
	if latest := o.LatestTimestamp(); at.Before(latest) {
		at = latest
	}

	next := o.Clone()
	if next.StatusTimestamps == nil {
		next.StatusTimestamps = map[orders.Status]time.Time{}
	}
	next.Status = target
	next.StatusTimestamps[target] = at
	return next, nil
}
