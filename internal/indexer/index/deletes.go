package index

import "sync/atomic"

// deleteSet is a fixed-size bitset of soft-deleted slots. Setting a bit is
// idempotent, so writers only need atomic visibility, not a lock.
type deleteSet struct {
	words []atomic.Uint64
	count atomic.Int64
}

func newDeleteSet(size int) *deleteSet {
	return &deleteSet{words: make([]atomic.Uint64, (size+63)/64)}
}

// Set marks slot as deleted.
func (d *deleteSet) Set(slot int) {
	mask := uint64(1) << (uint(slot) % 64)
	if old := d.words[slot/64].Or(mask); old&mask == 0 {
		d.count.Add(1)
	}
}

// Test reports whether slot is deleted.
func (d *deleteSet) Test(slot int) bool {
	return d.words[slot/64].Load()&(uint64(1)<<(uint(slot)%64)) != 0
}

// Count returns the number of deleted slots.
func (d *deleteSet) Count() int {
	return int(d.count.Load())
}
