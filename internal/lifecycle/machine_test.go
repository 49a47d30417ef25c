package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

var t0 = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func newOrder() orders.Order {
	return orders.Order{
		ID:               "o1",
		CustomerID:       "c1",
		ShopID:           "s1",
		Status:           orders.StatusNew,
		StatusTimestamps: map[orders.Status]time.Time{orders.StatusNew: t0},
	}
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[[2]orders.Status]bool{
		{orders.StatusNew, orders.StatusAccepted}:        true,
		{orders.StatusNew, orders.StatusCancelled}:       true,
		{orders.StatusAccepted, orders.StatusPreparing}:  true,
		{orders.StatusAccepted, orders.StatusCancelled}:  true,
		{orders.StatusPreparing, orders.StatusReady}:     true,
		{orders.StatusPreparing, orders.StatusCancelled}: true,
		{orders.StatusReady, orders.StatusCompleted}:     true,
		{orders.StatusReady, orders.StatusCancelled}:     true,
	}
	for _, from := range orders.Statuses {
		for _, to := range orders.Statuses {
			assert.Equal(t, allowed[[2]orders.Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransition_HappyPath(t *testing.T) {
	o := newOrder()
	path := []orders.Status{orders.StatusAccepted, orders.StatusPreparing, orders.StatusReady, orders.StatusCompleted}
	for i, target := range path {
		next, err := Transition(o, target, t0.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err, "-> %s", target)
		assert.Equal(t, target, next.Status)
		assert.Contains(t, next.StatusTimestamps, target)
		o = next
	}
	assert.Equal(t, 5, o.Version())
	assert.True(t, IsTerminal(o.Status))
}

func TestTransition_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		from   orders.Status
		target orders.Status
	}{
		{"skip to ready", orders.StatusNew, orders.StatusReady},
		{"back from completed", orders.StatusCompleted, orders.StatusAccepted},
		{"cancel completed", orders.StatusCompleted, orders.StatusCancelled},
		{"revive cancelled", orders.StatusCancelled, orders.StatusNew},
		{"self loop", orders.StatusAccepted, orders.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrder()
			o.Status = tt.from
			_, err := Transition(o, tt.target, t0.Add(time.Hour))
			require.ErrorIs(t, err, apperr.ErrInvalidTransition)
		})
	}
}

func TestTransition_CancelFromReady(t *testing.T) {
	o := newOrder()
	o.Status = orders.StatusReady
	next, err := Transition(o, orders.StatusCancelled, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, next.Status)
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	o := newOrder()
	_, err := Transition(o, orders.StatusAccepted, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusNew, o.Status)
	assert.Len(t, o.StatusTimestamps, 1)
}

func TestTransition_ClampsSkewedClock(t *testing.T) {
	o := newOrder()
	next, err := Transition(o, orders.StatusAccepted, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0, next.StatusTimestamps[orders.StatusAccepted])
}

func TestNext(t *testing.T) {
	assert.ElementsMatch(t, []orders.Status{orders.StatusAccepted, orders.StatusCancelled}, Next(orders.StatusNew))
	assert.Empty(t, Next(orders.StatusCompleted))
	assert.False(t, IsTerminal(orders.Status("bogus")))
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		status  orders.Status
		target  orders.Status
		wantErr error
	}{
		{"vendor any edge", Vendor(), orders.StatusReady, orders.StatusCompleted, nil},
		{"customer cancels new", Customer("c1"), orders.StatusNew, orders.StatusCancelled, nil},
		{"customer cancels accepted", Customer("c1"), orders.StatusAccepted, orders.StatusCancelled, nil},
		{"customer too late", Customer("c1"), orders.StatusPreparing, orders.StatusCancelled, apperr.ErrInvalidTransition},
		{"customer cannot accept", Customer("c1"), orders.StatusNew, orders.StatusAccepted, apperr.ErrInvalidTransition},
		{"other customer", Customer("c2"), orders.StatusNew, orders.StatusCancelled, apperr.ErrForbidden},
		{"unknown role", Actor{Role: "admin"}, orders.StatusNew, orders.StatusCancelled, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrder()
			o.Status = tt.status
			err := Authorize(tt.actor, o, tt.target)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
