// Package durable implements the large-scale index behind the real-time
// index. Writes are buffered until a dump turns them into an immutable
// segment; queries only see installed segments.
package durable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/searcher/merger"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/resilience"
)

// DumpResult describes one finished dump, successful or not.
type DumpResult struct {
	ID        string
	Timestamp int64
	Segment   string
	Docs      int
	Deletes   int
	Duration  time.Duration
	Err       error
}

// DumpListener is called exactly once per StartDump, from the dump
// goroutine.
type DumpListener func(DumpResult)

// Options configures an Index.
type Options struct {
	DataDir     string
	Parser      search.Parser
	Compression segment.Compression
	Facets      search.FacetProvider
	Retry       resilience.RetryConfig
	Metrics     *metrics.Metrics
}

type batch struct {
	adds map[search.DocID]search.Document
	dels map[search.DocID]struct{}
}

func newBatch() *batch {
	return &batch{
		adds: make(map[search.DocID]search.Document),
		dels: make(map[search.DocID]struct{}),
	}
}

func (b *batch) has(id search.DocID) bool {
	if _, ok := b.adds[id]; ok {
		return true
	}
	_, ok := b.dels[id]
	return ok
}

func (b *batch) empty() bool {
	return len(b.adds) == 0 && len(b.dels) == 0
}

// Index is the durable, segment-backed index.
type Index struct {
	opts    Options
	writer  *segment.Writer
	readers atomic.Pointer[[]*segment.Reader]

	mu       sync.Mutex
	pending  *batch
	inflight *batch
	lastTS   int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Open recovers the segments under opts.DataDir.
func Open(opts Options) (*Index, error) {
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ix := &Index{
		opts:    opts,
		writer:  segment.NewWriter(opts.DataDir, opts.Parser, opts.Compression),
		pending: newBatch(),
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default().With("component", "durable"),
	}
	readers, err := ix.loadExistingSegments()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	ix.readers.Store(&readers)
	ix.updateGauges(readers)
	return ix, nil
}

func (ix *Index) loadExistingSegments() ([]*segment.Reader, error) {
	entries, err := os.ReadDir(ix.opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}
	segFiles := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			// Left behind by a crash mid-write.
			_ = os.Remove(filepath.Join(ix.opts.DataDir, name))
			continue
		}
		if strings.HasSuffix(name, segment.Extension) {
			segFiles = append(segFiles, name)
		}
	}
	sort.Strings(segFiles)

	readers := make([]*segment.Reader, 0, len(segFiles))
	for _, name := range segFiles {
		reader, err := segment.OpenReader(filepath.Join(ix.opts.DataDir, name))
		if err != nil {
			ix.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		readers = append(readers, reader)
		ix.logger.Info("loaded existing segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.LiveDocs(),
		)
	}
	ix.logger.Info("segment recovery complete", "segments_loaded", len(readers))
	return readers, nil
}

func (ix *Index) segments() []*segment.Reader {
	return *ix.readers.Load()
}

// Add buffers doc for the next dump.
func (ix *Index) Add(id search.DocID, doc search.Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pending.adds[id] = doc
	delete(ix.pending.dels, id)
	return nil
}

// Del buffers a delete for the next dump.
func (ix *Index) Del(id search.DocID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.pending.adds, id)
	ix.pending.dels[id] = struct{}{}
}

// HasChanges reports whether id has buffered or in-flight writes.
func (ix *Index) HasChanges(id search.DocID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.pending.has(id) || (ix.inflight != nil && ix.inflight.has(id))
}

// Dumping reports whether a dump is in flight.
func (ix *Index) Dumping() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.inflight != nil
}

// StartDump snapshots the buffered writes and turns them into a segment in
// the background. listener receives the outcome. On failure the snapshot is
// merged back into the buffer so a later dump retries it.
func (ix *Index) StartDump(ts int64, listener DumpListener) error {
	ix.mu.Lock()
	if ix.inflight != nil {
		ix.mu.Unlock()
		return fmt.Errorf("start dump: dump already in progress: %w", apperrors.ErrInvalidStateTransition)
	}
	snapshot := ix.pending
	ix.inflight = snapshot
	ix.pending = newBatch()
	ix.mu.Unlock()

	id := uuid.NewString()
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		result := ix.dump(id, ts, snapshot)
		ix.mu.Lock()
		if result.Err != nil {
			ix.requeue(snapshot)
		} else {
			ix.lastTS = ts
		}
		ix.inflight = nil
		ix.mu.Unlock()
		ix.recordDump(result)
		if listener != nil {
			listener(result)
		}
	}()
	return nil
}

// requeue puts a failed snapshot back under writes that arrived since.
// Caller holds mu.
func (ix *Index) requeue(snapshot *batch) {
	for id, doc := range snapshot.adds {
		if !ix.pending.has(id) {
			ix.pending.adds[id] = doc
		}
	}
	for id := range snapshot.dels {
		if !ix.pending.has(id) {
			ix.pending.dels[id] = struct{}{}
		}
	}
}

func (ix *Index) dump(id string, ts int64, snapshot *batch) DumpResult {
	start := time.Now()
	result := DumpResult{ID: id, Timestamp: ts, Docs: len(snapshot.adds), Deletes: len(snapshot.dels)}
	logger := ix.logger.With("dump_id", id, "timestamp", ts)

	var reader *segment.Reader
	if len(snapshot.adds) > 0 {
		err := resilience.Retry(ix.ctx, "segment-write", ix.opts.Retry, func() error {
			name, err := ix.writer.Write(snapshot.adds)
			if err != nil {
				return err
			}
			reader, err = segment.OpenReader(filepath.Join(ix.opts.DataDir, name))
			if err != nil {
				return fmt.Errorf("opening new segment for reading: %w", err)
			}
			return nil
		})
		if err != nil {
			result.Err = fmt.Errorf("writing segment: %w", err)
			result.Duration = time.Since(start)
			logger.Error("dump failed", "error", result.Err)
			return result
		}
		result.Segment = reader.Name()
	}
	ix.install(reader, snapshot)
	result.Duration = time.Since(start)
	logger.Info("dump completed",
		"segment", result.Segment,
		"docs", result.Docs,
		"deletes", result.Deletes,
		"duration", result.Duration,
		"active_segments", len(ix.segments()),
	)
	return result
}

// install deletes superseded versions from the existing segments, then
// publishes reader (which may be nil for delete-only dumps).
func (ix *Index) install(reader *segment.Reader, snapshot *batch) {
	current := ix.segments()
	for _, old := range current {
		changed := false
		for id := range snapshot.adds {
			changed = old.Delete(id) || changed
		}
		for id := range snapshot.dels {
			changed = old.Delete(id) || changed
		}
		if changed {
			if err := old.SaveDeletes(); err != nil {
				ix.logger.Error("persisting segment deletes", "segment", old.Name(), "error", err)
			}
		}
	}
	next := make([]*segment.Reader, len(current), len(current)+1)
	copy(next, current)
	if reader != nil {
		next = append(next, reader)
	}
	ix.readers.Store(&next)
	ix.updateGauges(next)
}

func (ix *Index) recordDump(result DumpResult) {
	m := ix.opts.Metrics
	if m == nil {
		return
	}
	status := "success"
	if result.Err != nil {
		status = "error"
	}
	m.DumpsTotal.WithLabelValues(status).Inc()
	m.DumpDuration.Observe(result.Duration.Seconds())
}

func (ix *Index) updateGauges(readers []*segment.Reader) {
	m := ix.opts.Metrics
	if m == nil {
		return
	}
	docs := 0
	for _, r := range readers {
		docs += r.LiveDocs()
	}
	m.DurableSegments.Set(float64(len(readers)))
	m.DurableDocCount.Set(float64(docs))
}

func (ix *Index) matcher(r *segment.Reader) *search.TermBasedMatcher {
	return &search.TermBasedMatcher{Terms: r, Facets: ix.opts.Facets}
}

// FindMatches queries every installed segment concurrently and keeps the
// best limit matches.
func (ix *Index) FindMatches(ctx context.Context, q search.Query, filter search.DocFilter, limit int, scorer search.Scorer) (*search.ResultSet, error) {
	readers := ix.segments()
	results := make([]*search.ResultSet, len(readers))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range readers {
		g.Go(func() error {
			rs, err := ix.matcher(r).FindMatches(gctx, q, filter, limit, scorer)
			if err != nil {
				return fmt.Errorf("segment %s: %w", r.Name(), err)
			}
			results[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := &search.ResultSet{}
	perSegment := make([][]search.ScoredMatch, len(results))
	for i, rs := range results {
		out.Total += rs.Total
		out.Facets = search.MergeFacets(out.Facets, rs.Facets)
		perSegment[i] = rs.Matches
	}
	out.Matches = merger.Merge(perSegment, limit)
	return out, nil
}

// CountMatches sums the per-segment counts.
func (ix *Index) CountMatches(ctx context.Context, q search.Query, filter search.DocFilter) (int, error) {
	total := 0
	for _, r := range ix.segments() {
		n, err := ix.matcher(r).CountMatches(ctx, q, filter)
		if err != nil {
			return 0, fmt.Errorf("segment %s: %w", r.Name(), err)
		}
		total += n
	}
	return total, nil
}

// Stats describes the installed segments and the write buffer.
type Stats struct {
	Segments      int
	Docs          int
	Deleted       int
	Terms         int
	Pending       int
	Dumping       bool
	LastTimestamp int64
}

func (ix *Index) Stats() Stats {
	var st Stats
	for _, r := range ix.segments() {
		st.Segments++
		st.Docs += r.LiveDocs()
		st.Deleted += r.Deleted()
		st.Terms += r.Terms()
	}
	ix.mu.Lock()
	st.Pending = len(ix.pending.adds) + len(ix.pending.dels)
	st.Dumping = ix.inflight != nil
	st.LastTimestamp = ix.lastTS
	ix.mu.Unlock()
	return st
}

// Segments returns the installed segment names, oldest first.
func (ix *Index) Segments() []string {
	readers := ix.segments()
	names := make([]string, len(readers))
	for i, r := range readers {
		names[i] = r.Name()
	}
	return names
}

// Close waits for an in-flight dump, then closes every segment. Buffered
// writes that were never dumped are dropped.
func (ix *Index) Close() error {
	ix.wg.Wait()
	ix.cancel()
	var firstErr error
	for _, r := range ix.segments() {
		if err := r.Close(); err != nil {
			ix.logger.Error("closing segment reader", "segment", r.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	empty := []*segment.Reader{}
	ix.readers.Store(&empty)
	return firstErr
}

var _ search.QueryMatcher = (*Index)(nil)
