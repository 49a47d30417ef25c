package orders

import (
	"fmt"
	"strings"
)

// Status is the closed set of order lifecycle states.
type Status string

const (
	StatusNew       Status = "new"
	StatusAccepted  Status = "accepted"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"

	// legacyPending is how older records spell StatusNew.
	legacyPending = "pending"
)

// Statuses lists every status in display priority order.
var Statuses = []Status{
	StatusNew,
	StatusAccepted,
	StatusPreparing,
	StatusReady,
	StatusCompleted,
	StatusCancelled,
}

// ParseStatus normalizes a raw status string. "pending" is read as StatusNew.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == legacyPending {
		return StatusNew, nil
	}
	for _, known := range Statuses {
		if s == string(known) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// LegacyAlias returns the historical spelling of s, if it has one.
func LegacyAlias(s Status) (string, bool) {
	if s == StatusNew {
		return legacyPending, true
	}
	return "", false
}

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	return s.Priority() <= len(Statuses)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the order is still being worked on.
func (s Status) Active() bool {
	return s.Valid() && !s.Terminal()
}

// Priority is the display rank of s; unknown statuses sort last.
func (s Status) Priority() int {
	for i, known := range Statuses {
		if s == known {
			return i + 1
		}
	}
	return len(Statuses) + 1
}

func (s Status) String() string { return string(s) }

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText runs ParseStatus, so JSON values and map keys are normalized
// at the ingestion boundary.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
