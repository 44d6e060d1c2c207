package durable

import (
	"context"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/resilience"
)

type wordParser struct{}

func (wordParser) ParseField(_, text string) []search.Token {
	var tokens []search.Token
	for i, w := range strings.Fields(text) {
		tokens = append(tokens, search.Token{Term: w, Position: i})
	}
	return tokens
}

func openIndex(t *testing.T, dir string) *Index {
	t.Helper()
	ix, err := Open(Options{
		DataDir:     dir,
		Parser:      wordParser{},
		Compression: segment.CompressionZSTD,
		Retry:       resilience.RetryConfig{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return ix
}

func dumpSync(t *testing.T, ix *Index, ts int64) DumpResult {
	t.Helper()
	done := make(chan DumpResult, 1)
	require.NoError(t, ix.StartDump(ts, func(r DumpResult) { done <- r }))
	select {
	case r := <-done:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("dump did not complete")
		return DumpResult{}
	}
}

func find(t *testing.T, ix *Index, term string) []search.DocID {
	t.Helper()
	rs, err := ix.FindMatches(context.Background(), search.TermQuery{Field: "body", Term: term}, nil, 100, nil)
	require.NoError(t, err)
	out := make([]search.DocID, len(rs.Matches))
	for i, m := range rs.Matches {
		out[i] = m.DocID
	}
	slices.Sort(out)
	return out
}

func TestBufferedWritesInvisibleUntilDump(t *testing.T) {
	ix := openIndex(t, t.TempDir())
	defer ix.Close()

	require.NoError(t, ix.Add("a", search.NewDocument("body", "x")))
	assert.True(t, ix.HasChanges("a"))
	assert.Empty(t, find(t, ix, "x"))

	res := dumpSync(t, ix, 42)
	require.NoError(t, res.Err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 1, res.Docs)
	assert.Equal(t, []search.DocID{"a"}, find(t, ix, "x"))
	assert.False(t, ix.HasChanges("a"))

	st := ix.Stats()
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, int64(42), st.LastTimestamp)
	assert.False(t, st.Dumping)
}

func TestInstallSupersedesOlderSegments(t *testing.T) {
	dir := t.TempDir()
	ix := openIndex(t, dir)

	require.NoError(t, ix.Add("a", search.NewDocument("body", "old")))
	require.NoError(t, ix.Add("b", search.NewDocument("body", "old")))
	require.NoError(t, dumpSync(t, ix, 1).Err)

	require.NoError(t, ix.Add("a", search.NewDocument("body", "new")))
	ix.Del("b")
	res := dumpSync(t, ix, 2)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Deletes)

	assert.Empty(t, find(t, ix, "old"))
	assert.Equal(t, []search.DocID{"a"}, find(t, ix, "new"))
	require.NoError(t, ix.Close())

	// Deletes survive a restart.
	ix = openIndex(t, dir)
	defer ix.Close()
	assert.Len(t, ix.Segments(), 2)
	assert.Empty(t, find(t, ix, "old"))
	assert.Equal(t, []search.DocID{"a"}, find(t, ix, "new"))
	assert.Equal(t, 1, ix.Stats().Docs)
}

func TestSecondDumpWhileInFlightRejected(t *testing.T) {
	ix := openIndex(t, t.TempDir())
	defer ix.Close()

	ix.mu.Lock()
	ix.inflight = newBatch()
	ix.mu.Unlock()
	assert.True(t, ix.Dumping())
	assert.ErrorIs(t, ix.StartDump(2, nil), apperrors.ErrInvalidStateTransition)

	ix.mu.Lock()
	ix.inflight = nil
	ix.mu.Unlock()
}

func TestFailedDumpRequeues(t *testing.T) {
	dir := t.TempDir()
	ix := openIndex(t, dir)
	defer ix.Close()

	require.NoError(t, ix.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, ix.Add("b", search.NewDocument("body", "x")))
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0644))

	res := dumpSync(t, ix, 7)
	require.Error(t, res.Err)
	assert.True(t, ix.HasChanges("a"))
	assert.Equal(t, 2, ix.Stats().Pending)
	assert.Zero(t, ix.Stats().LastTimestamp)

	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, dumpSync(t, ix, 8).Err)
	assert.Equal(t, []search.DocID{"a", "b"}, find(t, ix, "x"))
}

func TestRequeueKeepsNewerWrites(t *testing.T) {
	ix := openIndex(t, t.TempDir())
	defer ix.Close()

	snapshot := newBatch()
	snapshot.adds["a"] = search.NewDocument("body", "stale")
	snapshot.adds["b"] = search.NewDocument("body", "kept")
	ix.Del("a")

	ix.mu.Lock()
	ix.requeue(snapshot)
	ix.mu.Unlock()

	_, stillDeleted := ix.pending.dels["a"]
	assert.True(t, stillDeleted)
	assert.NotContains(t, ix.pending.adds, search.DocID("a"))
	assert.Contains(t, ix.pending.adds, search.DocID("b"))
}

func TestDeleteOnlyDump(t *testing.T) {
	ix := openIndex(t, t.TempDir())
	defer ix.Close()
	require.NoError(t, ix.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, dumpSync(t, ix, 1).Err)

	ix.Del("a")
	res := dumpSync(t, ix, 2)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Segment)
	assert.Empty(t, find(t, ix, "x"))
	assert.Len(t, ix.Segments(), 1)
}

func TestFindMatchesAcrossSegments(t *testing.T) {
	ix := openIndex(t, t.TempDir())
	defer ix.Close()
	require.NoError(t, ix.Add("a", search.NewDocument("body", "x")))
	require.NoError(t, dumpSync(t, ix, 1).Err)
	require.NoError(t, ix.Add("b", search.NewDocument("body", "x y")))
	require.NoError(t, dumpSync(t, ix, 2).Err)

	rs, err := ix.FindMatches(context.Background(), search.TermQuery{Field: "body", Term: "x"}, nil, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Total)
	require.Len(t, rs.Matches, 1)
	assert.Equal(t, search.DocID("a"), rs.Matches[0].DocID, "shorter field scores higher")

	n, err := ix.CountMatches(context.Background(), search.TermQuery{Field: "body", Term: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
