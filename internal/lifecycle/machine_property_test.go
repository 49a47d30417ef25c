package lifecycle

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// walk follows choices through the lifecycle graph, picking an outgoing edge
// per step, and returns the statuses visited in order.
func walk(choices []int, offsets []int64) (orders.Order, []orders.Status, bool) {
	o := newOrder()
	visited := []orders.Status{orders.StatusNew}
	now := t0
	for i, c := range choices {
		next := Next(o.Status)
		if len(next) == 0 {
			break
		}
		if i < len(offsets) {
			now = now.Add(time.Duration(offsets[i]) * time.Second)
		}
		target := next[c%len(next)]
		updated, err := Transition(o, target, now)
		if err != nil {
			return o, visited, false
		}
		o = updated
		visited = append(visited, target)
	}
	return o, visited, true
}

// Property: any sequence of allowed edges ends in the last applied status,
// records one timestamp per visited status, and never goes back in time,
// even with a clock that jumps backwards.
func TestTransition_ValidSequencesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("final status and timestamps follow the walk", prop.ForAll(
		func(choices []int, offsets []int64) bool {
			o, visited, ok := walk(choices, offsets)
			if !ok {
				return false
			}
			if o.Status != visited[len(visited)-1] {
				return false
			}
			if len(o.StatusTimestamps) != len(visited) {
				return false
			}
			for i := 1; i < len(visited); i++ {
				if o.StatusTimestamps[visited[i]].Before(o.StatusTimestamps[visited[i-1]]) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.IntRange(0, 1)),
		gen.SliceOfN(6, gen.Int64Range(-120, 600)),
	))

	properties.Property("terminal statuses reject every target", prop.ForAll(
		func(choices []int, pick int) bool {
			o, _, _ := walk(choices, nil)
			if !IsTerminal(o.Status) {
				return true
			}
			target := orders.Statuses[pick%len(orders.Statuses)]
			_, err := Transition(o, target, t0.Add(time.Hour))
			return err != nil
		},
		gen.SliceOfN(6, gen.IntRange(0, 1)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
