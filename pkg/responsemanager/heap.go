package responsemanager

import "time"

// expirationItem is one entry in an expiration-ordered min-heap, indexed by
// operation id for O(1) removal when a rendezvous completes out of band
// from expiration order.
type expirationItem struct {
	id        int64
	expiresAt time.Time
	index     int
}

// expirationHeap implements container/heap.Interface, ordered by
// expiresAt, the Go substitute for the original's
// ordered_non_unique<expiration_time> multi-index view.
type expirationHeap []*expirationItem

func (h expirationHeap) Len() int { return len(h) }

func (h expirationHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h expirationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expirationHeap) Push(x interface{}) {
	item := x.(*expirationItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *expirationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
