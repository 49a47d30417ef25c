package orders

import "sort"

// Less orders a before b for display: status priority first, then creation
// time (newest first for active and cancelled orders, oldest first for
// completed ones), then id.
func Less(a, b Order) bool {
	pa, pb := a.Status.Priority(), b.Status.Priority()
	if pa != pb {
		return pa < pb
	}
	ca, cb := a.CreatedAt(), b.CreatedAt()
	if !ca.Equal(cb) {
		if a.Status == StatusCompleted {
			return ca.Before(cb)
		}
		return ca.After(cb)
	}
	return a.ID < b.ID
}

// SortForDisplay sorts list in place using Less.
func SortForDisplay(list []Order) {
	sort.SliceStable(list, func(i, j int) bool { return Less(list[i], list[j]) })
}

// FilterByStatus returns the orders whose status is in statuses. An empty
// filter keeps everything.
func FilterByStatus(list []Order, statuses ...Status) []Order {
	if len(statuses) == 0 {
		return list
	}
	keep := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		keep[s] = struct{}{}
	}
	out := make([]Order, 0, len(list))
	for _, o := range list {
		if _, ok := keep[o.Status]; ok {
			out = append(out, o)
		}
	}
	return out
}
