// Package metrics counts lifecycle events and ships them to CloudWatch.
package metrics

// Counter names.
const (
	OrdersSubmitted       = "OrdersSubmitted"
	StatusChanges         = "StatusChanges"
	StaleTransitions      = "StaleTransitions"
	DurableRetries        = "DurableRetries"
	MirrorFailures        = "MirrorFailures"
	SubscriptionFallbacks = "SubscriptionFallbacks"
	SubscriptionRecovered = "SubscriptionRecovered"
)

// Dimension narrows a counter, e.g. {"Status", "accepted"}.
type Dimension struct {
	Name  string
	Value string
}

// Recorder counts events. Implementations must be safe for concurrent use
// and must not block the caller on network I/O.
type Recorder interface {
	Incr(name string, dims ...Dimension)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Incr(string, ...Dimension) {}
