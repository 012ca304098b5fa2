// Package mempool holds pending transactions in fee-priority order, ahead of
// block production, generalizing the teacher's insertion-ordered
// core.Mempool into a priority queue.
package mempool

import (
	"container/heap"
	"sync"
	"time"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/events"
)

// DefaultMaxSize bounds total pool entries.
const DefaultMaxSize = 10_000

// DefaultExpiry is how long an admitted transaction may sit in the pool
// before it is dropped, per spec §4.5.
const DefaultExpiry = 24 * time.Hour

type entry struct {
	tx         *core.Transaction
	feePerByte float64
	arrival    time.Time
	size       int
	index      int // heap index, maintained by container/heap
}

// priorityQueue orders entries by fee-per-byte descending, arrival time
// ascending as the tie-break.
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].feePerByte != pq[j].feePerByte {
		return pq[i].feePerByte > pq[j].feePerByte
	}
	return pq[i].arrival.Before(pq[j].arrival)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*pq = old[:n-1]
	return e
}

// Pool is a thread-safe, bounded, fee-priority pending-transaction pool.
type Pool struct {
	mu        sync.RWMutex
	maxSize   int
	expiry    time.Duration
	byID      map[string]*entry
	pq        priorityQueue
	spentBy   map[string]string // output ID -> tx ID currently spending it
	emitter   *events.Emitter
}

// NewPool creates an empty Pool. emitter may be nil; if set, admitted and
// removed transactions are published to it for the consensus core.
func NewPool(emitter *events.Emitter) *Pool {
	return &Pool{
		maxSize: DefaultMaxSize,
		expiry:  DefaultExpiry,
		byID:    make(map[string]*entry),
		spentBy: make(map[string]string),
		emitter: emitter,
	}
}

// Size returns the current number of pending transactions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

// Get returns a pooled transaction by ID.
func (p *Pool) Get(id string) (*core.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Pending returns up to n transactions in priority order (highest
// fee-per-byte first), without removing them.
func (p *Pool) Pending(n int) []*core.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ordered := append(priorityQueue{}, p.pq...)
	out := make([]*core.Transaction, 0, n)
	for len(ordered) > 0 && len(out) < n {
		top := 0
		for i := 1; i < len(ordered); i++ {
			if ordered.Less(i, top) {
				top = i
			}
		}
		out = append(out, ordered[top].tx)
		ordered = append(ordered[:top], ordered[top+1:]...)
	}
	return out
}

// Remove deletes transactions by ID, called after block commit and by
// ExpireOlderThan. Publishes EventTxRemoved for each.
func (p *Pool) Remove(ids []string) {
	p.mu.Lock()
	var removed []*core.Transaction
	for _, id := range ids {
		e, ok := p.byID[id]
		if !ok {
			continue
		}
		heap.Remove(&p.pq, e.index)
		delete(p.byID, id)
		for _, in := range e.tx.Inputs {
			if p.spentBy[in.PrevOutputID] == id {
				delete(p.spentBy, in.PrevOutputID)
			}
		}
		removed = append(removed, e.tx)
	}
	p.mu.Unlock()

	for _, tx := range removed {
		p.publish(events.EventTxRemoved, tx)
	}
}

// ExpireOlderThan removes entries whose arrival time is older than the
// pool's expiry relative to now, per spec §4.5's 24-hour expiry.
func (p *Pool) ExpireOlderThan(now time.Time) {
	p.mu.Lock()
	var expired []string
	for id, e := range p.byID {
		if now.Sub(e.arrival) > p.expiry {
			expired = append(expired, id)
		}
	}
	p.mu.Unlock()
	if len(expired) > 0 {
		p.Remove(expired)
	}
}

func (p *Pool) publish(typ events.EventType, tx *core.Transaction) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(events.Event{
		Type: typ,
		TxID: tx.ID,
		Data: map[string]any{"fee": tx.Fee},
	})
}
