package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

func TestTermMapGetOrCreateIsIdempotent(t *testing.T) {
	m := newTermMap()
	key := search.TermKey{Field: "title", Term: "go"}

	assert.Nil(t, m.Get(key))
	first := m.GetOrCreate(key)
	second := m.GetOrCreate(key)
	assert.Same(t, first, second)
	assert.Same(t, first, m.Get(key))
	assert.Equal(t, 1, m.Len())
}

func TestTermMapConcurrentInsertSameKey(t *testing.T) {
	m := newTermMap()
	key := search.TermKey{Field: "body", Term: "race"}

	lists := make([]*PostingList, 16)
	var wg sync.WaitGroup
	for i := range lists {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lists[i] = m.GetOrCreate(key)
		}()
	}
	wg.Wait()

	for _, l := range lists {
		assert.Same(t, lists[0], l)
	}
	assert.Equal(t, 1, m.Len())
}

func TestTermMapAscendOrdered(t *testing.T) {
	m := newTermMap()
	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.GetOrCreate(search.TermKey{Field: "body", Term: fmt.Sprintf("t%03d", i)})
			m.GetOrCreate(search.TermKey{Field: "title", Term: fmt.Sprintf("t%03d", i)})
		}()
	}
	wg.Wait()
	require.Equal(t, 400, m.Len())

	var terms []string
	m.Ascend(search.TermKey{Field: "body", Term: "t010"}, search.TermKey{Field: "body", Term: "t015"},
		func(k search.TermKey, _ *PostingList) bool {
			terms = append(terms, k.Term)
			return true
		})
	assert.Equal(t, []string{"t010", "t011", "t012", "t013", "t014"}, terms)

	count := 0
	m.Ascend(search.TermKey{Field: "body", Term: "t190"}, search.TermKey{Field: "body"},
		func(k search.TermKey, _ *PostingList) bool {
			assert.Equal(t, "body", k.Field)
			count++
			return true
		})
	assert.Equal(t, 10, count)
}
