package mempool

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/events"
)

// Add validates tx against the given unspent-output set and admits it if
// valid, per spec §4.5: signature valid, inputs exist and are unconflicted
// against the best-view unspent set; a conflicting pool entry is evicted if
// tx pays a strictly higher fee-per-byte, otherwise tx is rejected.
func (p *Pool) Add(tx *core.Transaction, set core.UnspentOutputSet) error {
	ownerOf, err := core.OwnerOfFunc(set, tx.From)
	if err != nil {
		return fmt.Errorf("mempool: resolve spender: %w", err)
	}
	if err := tx.Verify(ownerOf); err != nil {
		return fmt.Errorf("mempool: invalid transaction: %w", err)
	}

	size := tx.SizeBytes()
	if size == 0 {
		size = 1
	}
	feePerByte := float64(tx.Fee) / float64(size)

	evicted, err := p.admitLocked(tx, feePerByte, size)
	if err != nil {
		return err
	}

	for _, evictedTx := range evicted {
		p.publish(events.EventTxRemoved, evictedTx)
	}
	p.publish(events.EventTxAdded, tx)
	return nil
}

// admitLocked performs the locked conflict-check, eviction and insertion,
// returning the transactions evicted to make room for tx.
func (p *Pool) admitLocked(tx *core.Transaction, feePerByte float64, size int) ([]*core.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.byID[tx.ID]; exists {
		return nil, fmt.Errorf("mempool: %s already pooled", tx.ID)
	}

	var toEvict []string
	for _, in := range tx.Inputs {
		conflictID, conflicted := p.spentBy[in.PrevOutputID]
		if !conflicted {
			continue
		}
		conflictEntry := p.byID[conflictID]
		if conflictEntry == nil {
			continue
		}
		if feePerByte <= conflictEntry.feePerByte {
			return nil, fmt.Errorf("%w: conflicts with higher- or equal-fee pooled tx %s", core.ErrTransactionConflict, conflictID)
		}
		toEvict = append(toEvict, conflictID)
	}

	if len(p.byID)-len(toEvict)+1 > p.maxSize {
		return nil, fmt.Errorf("mempool: full")
	}

	evicted := make([]*core.Transaction, 0, len(toEvict))
	for _, id := range toEvict {
		if e, ok := p.byID[id]; ok {
			evicted = append(evicted, e.tx)
		}
		p.evictLocked(id)
	}

	e := &entry{tx: tx, feePerByte: feePerByte, arrival: time.Now(), size: size}
	heap.Push(&p.pq, e)
	p.byID[tx.ID] = e
	for _, in := range tx.Inputs {
		p.spentBy[in.PrevOutputID] = tx.ID
	}

	return evicted, nil
}

// evictLocked removes id from the pool's indices. Caller holds p.mu.
func (p *Pool) evictLocked(id string) {
	e, ok := p.byID[id]
	if !ok {
		return
	}
	heap.Remove(&p.pq, e.index)
	delete(p.byID, id)
	for _, in := range e.tx.Inputs {
		if p.spentBy[in.PrevOutputID] == id {
			delete(p.spentBy, in.PrevOutputID)
		}
	}
}
