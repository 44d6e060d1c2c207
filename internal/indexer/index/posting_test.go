package index

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostingListAppendOrder(t *testing.T) {
	l := NewPostingList()
	l.Append(3, []int{0, 4}, 4)
	l.Append(1, []int{2}, 1)

	got := drain(l.Iterator(nil))
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Slot)
	assert.Equal(t, 2, got[0].Freq)
	assert.InDelta(t, math.Sqrt(0.25), got[0].Norm, 1e-9)
	assert.Equal(t, 1, got[1].Slot)
	assert.Equal(t, 2, l.Len())
}

func TestPostingListIteratorSkipsDeleted(t *testing.T) {
	l := NewPostingList()
	for slot := range 5 {
		l.Append(slot, []int{0}, 1)
	}
	it := l.Iterator(func(slot int) bool { return slot%2 == 1 })
	it.SkipTo(4)

	var slots []int
	for _, m := range drain(it) {
		slots = append(slots, m.Slot)
	}
	assert.Equal(t, []int{0, 2, 4}, slots)
}

func TestPostingListConcurrentAppend(t *testing.T) {
	const writers, perWriter = 8, 500
	l := NewPostingList()

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				l.Append(w*perWriter+i, []int{0}, 1)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, m := range drain(l.Iterator(nil)) {
		assert.False(t, seen[m.Slot], "slot %d appended twice", m.Slot)
		seen[m.Slot] = true
	}
	assert.Len(t, seen, writers*perWriter)
	assert.Equal(t, writers*perWriter, l.Len())
}
