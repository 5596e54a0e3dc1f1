package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"
)

// WorkItem is one URL waiting to be crawled.
type WorkItem struct {
	URL       string
	Depth     int
	Priority  float64 // Higher is crawled first
	Hint      string  // Anchor text or seed source
	ParentURL string
}

// --- Priority Queue Implementation ---

// pqItem represents an item in the priority queue
type pqItem struct {
	workItem *WorkItem
	seq      uint64 // Push order, breaks priority ties first-in first-out
	index    int    // The index of the item in the heap (required by heap interface)
}

// priorityQueue implements heap.Interface ordered by (-priority, seq)
type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	pi, pj := pq[i].workItem.Priority, pq[j].workItem.Priority
	if pi != pj {
		return pi > pj
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the highest priority element from the heap
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// Frontier is the crawl queue of one entity: highest priority first,
// equal priorities in push order.
type Frontier struct {
	pq     priorityQueue
	mu     sync.Mutex
	seq    uint64
	closed bool
	log    *logrus.Entry
}

// NewFrontier creates an empty frontier
func NewFrontier(log *logrus.Entry) *Frontier {
	f := &Frontier{log: log}
	heap.Init(&f.pq)
	return f
}

// Push adds a work item. Items pushed after Close are dropped.
func (f *Frontier) Push(item *WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		if f.log != nil {
			f.log.Warnf("Attempted to push to closed frontier: %s", item.URL)
		}
		return
	}

	f.seq++
	heap.Push(&f.pq, &pqItem{workItem: item, seq: f.seq})
}

// Pop removes and returns the highest priority item.
// Returns nil and false when the frontier is empty or closed.
func (f *Frontier) Pop() (*WorkItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || len(f.pq) == 0 {
		return nil, false
	}
	item := heap.Pop(&f.pq).(*pqItem)
	return item.workItem, true
}

// Close drops pending items and rejects further pushes
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.pq = nil
}

// Len returns the current number of items in the frontier
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pq)
}
