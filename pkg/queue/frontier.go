// Package queue holds the crawl frontier.
package queue

import (
	"container/heap"
	"sync"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
)

type frontierItem struct {
	item  models.WorkItem
	seq   uint64 // insertion order, breaks depth ties
	index int
}

type frontierHeap []*frontierItem

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].item.Depth != h[j].item.Depth {
		return h[i].item.Depth < h[j].item.Depth
	}
	return h[i].seq < h[j].seq
}

func (h frontierHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *frontierHeap) Push(x any) {
	it := x.(*frontierItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Frontier yields work items shallowest first, in insertion order within a depth.
// A URL is accepted once; later pushes of the same URL are dropped even after it was popped.
type Frontier struct {
	mu   sync.Mutex
	h    frontierHeap
	seen map[string]bool
	seq  uint64
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	f := &Frontier{seen: make(map[string]bool)}
	heap.Init(&f.h)
	return f
}

// Push adds item unless its URL was pushed before. Reports whether it was added.
func (f *Frontier) Push(item models.WorkItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[item.URL] {
		return false
	}
	f.seen[item.URL] = true
	heap.Push(&f.h, &frontierItem{item: item, seq: f.seq})
	f.seq++
	return true
}

// Pop removes the next item. ok is false when the frontier is empty.
func (f *Frontier) Pop() (item models.WorkItem, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.h) == 0 {
		return models.WorkItem{}, false
	}
	return heap.Pop(&f.h).(*frontierItem).item, true
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.h)
}
