// Package indexer coordinates the real-time index, the durable index and the
// per-document dynamic data. The Dealer admits writes, switches RTI
// generations when the current one fills up and drives the dumps that
// migrate a frozen generation into the durable index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/boosts"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/durable"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/rti"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/resilience"
)

const checkpointTimeout = 30 * time.Second

// DurableIndex is the large-scale index a frozen RTI generation is dumped
// into.
type DurableIndex interface {
	search.QueryMatcher
	Add(id search.DocID, doc search.Document) error
	Del(id search.DocID)
	StartDump(ts int64, listener durable.DumpListener) error
}

// Dumper is anything that persists state alongside a forced dump.
type Dumper interface {
	Dump(ctx context.Context) error
}

// Options configures a Dealer. Durable, Boosts and Parser are required.
type Options struct {
	RTISize          int
	DumpPollInterval time.Duration
	DumpRetryDelay   time.Duration

	Parser      search.Parser
	Durable     DurableIndex
	Boosts      boosts.Store
	Checkpoints checkpoint.Store
	Scorer      search.Scorer
	Dumpers     []Dumper
	// Listeners are told about every successful dump after the mark is
	// cleared.
	Listeners []durable.DumpListener
	Metrics   *metrics.Metrics
}

func (o *Options) applyDefaults() error {
	if o.RTISize <= 0 {
		return fmt.Errorf("rti size must be positive, got %d: %w", o.RTISize, apperrors.ErrInvalidInput)
	}
	if o.Durable == nil || o.Boosts == nil || o.Parser == nil {
		return fmt.Errorf("dealer needs a durable index, a boosts store and a parser: %w", apperrors.ErrInvalidInput)
	}
	if o.DumpPollInterval <= 0 {
		o.DumpPollInterval = 100 * time.Millisecond
	}
	if o.DumpRetryDelay <= 0 {
		o.DumpRetryDelay = 5 * time.Second
	}
	if o.Scorer == nil {
		o.Scorer = ranker.NewBoostScorer(o.Boosts)
	}
	return nil
}

// Dealer is the write and search entry point of the engine.
type Dealer struct {
	opts Options
	rti  *rti.RealTimeIndex

	// mu is held shared by every admitted write and exclusively by a switch.
	mu       sync.RWMutex
	admitted atomic.Int64
	clock    atomic.Int64
	dumping  atomic.Bool
	lastDump atomic.Pointer[durable.DumpResult]
	restored checkpoint.Checkpoint

	retryMu sync.Mutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewDealer builds a Dealer and restores the logical clock from the
// checkpoint store, if one is configured.
func NewDealer(ctx context.Context, opts Options) (*Dealer, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	dctx, cancel := context.WithCancel(context.Background())
	d := &Dealer{
		opts:   opts,
		rti:    rti.New(opts.RTISize, opts.Parser, opts.Boosts.Categories),
		ctx:    dctx,
		cancel: cancel,
		logger: slog.Default().With("component", "dealer"),
	}
	if opts.Checkpoints != nil {
		cp, err := opts.Checkpoints.Load(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		d.restored = cp
		d.clock.Store(cp.Timestamp)
		d.logger.Info("restored checkpoint", "timestamp", cp.Timestamp, "dump_id", cp.DumpID)
	}
	d.updateGauges()
	return d, nil
}

// Add indexes doc under id, replacing any earlier version.
func (d *Dealer) Add(ctx context.Context, id search.DocID, doc search.Document) error {
	return d.AddWithBoosts(ctx, id, doc, nil)
}

// AddWithBoosts is Add that also sets the document's boosts before it
// becomes searchable. nil boosts leave the stored ones untouched.
func (d *Dealer) AddWithBoosts(ctx context.Context, id search.DocID, doc search.Document, boostValues []float64) error {
	return d.admit(ctx, func() error {
		if boostValues != nil {
			if err := d.opts.Boosts.SetBoosts(ctx, id, boostValues); err != nil {
				return fmt.Errorf("applying boosts for %s: %w", id, err)
			}
		}
		if err := d.rti.Add(id, doc); err != nil {
			return fmt.Errorf("adding %s to real-time index: %w", id, err)
		}
		if err := d.opts.Durable.Add(id, doc); err != nil {
			return fmt.Errorf("adding %s to durable index: %w", id, err)
		}
		d.clock.Add(1)
		if m := d.opts.Metrics; m != nil {
			m.DocsIndexedTotal.Inc()
		}
		return nil
	})
}

// admit runs index once a slot of the current generation has been reserved
// for it. A full generation triggers a switch first.
func (d *Dealer) admit(ctx context.Context, index func() error) error {
	size := int64(d.opts.RTISize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := d.admitted.Load()
		if c >= size {
			if _, err := d.SwitchIndexesOnce(ctx, false); err != nil {
				return err
			}
			d.retried()
			continue
		}
		d.mu.RLock()
		if !d.admitted.CompareAndSwap(c, c+1) {
			d.mu.RUnlock()
			d.retried()
			continue
		}
		err := index()
		d.mu.RUnlock()
		return err
	}
}

func (d *Dealer) retried() {
	if m := d.opts.Metrics; m != nil {
		m.AdmissionRetries.Inc()
	}
}

// SwitchIndexesOnce marks the RTI and starts dumping the frozen generation.
// Without force it only switches when the current generation is full, so
// concurrent writers racing for the same switch perform it once. It waits
// for a previous dump to finish before marking.
func (d *Dealer) SwitchIndexesOnce(ctx context.Context, force bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !force && d.admitted.Load() < int64(d.opts.RTISize) {
		return false, nil
	}
	if err := d.waitForDump(ctx); err != nil {
		return false, fmt.Errorf("waiting for previous dump: %w", err)
	}
	if err := d.rti.Mark(); err != nil {
		return false, err
	}
	d.admitted.Store(0)
	d.dumping.Store(true)

	trigger := "capacity"
	if force {
		trigger = "forced"
	}
	ts := d.clock.Load()
	d.logger.Info("switching indexes", "trigger", trigger, "timestamp", ts)
	if m := d.opts.Metrics; m != nil {
		m.IndexSwitchesTotal.WithLabelValues(trigger).Inc()
	}
	d.updateGauges()

	if err := d.opts.Durable.StartDump(ts, d.DumpCompleted); err != nil {
		d.DumpCompleted(durable.DumpResult{Timestamp: ts, Err: err})
	}
	return true, nil
}

// DumpCompleted is the durable index's dump listener. A successful dump
// clears the mark and records a checkpoint; a failed one keeps the mark and
// is re-issued after DumpRetryDelay.
func (d *Dealer) DumpCompleted(result durable.DumpResult) {
	if result.Err != nil {
		d.logger.Error("dump failed, keeping marked generation",
			"dump_id", result.ID,
			"error", result.Err,
			"retry_in", d.opts.DumpRetryDelay,
		)
		d.scheduleRetry()
		return
	}

	if err := d.rti.ClearToMark(); err != nil {
		d.logger.Error("clearing marked generation", "error", err)
	}
	if d.opts.Checkpoints != nil {
		cp := checkpoint.Checkpoint{DumpID: result.ID, Timestamp: result.Timestamp}
		err := resilience.WithTimeout(d.ctx, checkpointTimeout, "checkpoint-save", func(ctx context.Context) error {
			return d.opts.Checkpoints.Save(ctx, cp)
		})
		if err != nil {
			d.logger.Error("saving checkpoint", "dump_id", result.ID, "timestamp", result.Timestamp, "error", err)
		}
	}
	d.lastDump.Store(&result)
	for _, listener := range d.opts.Listeners {
		listener(result)
	}
	d.updateGauges()
	d.dumping.Store(false)
	d.logger.Info("dump installed",
		"dump_id", result.ID,
		"timestamp", result.Timestamp,
		"docs", result.Docs,
		"deletes", result.Deletes,
	)
}

func (d *Dealer) scheduleRetry() {
	d.retryMu.Lock()
	if d.closed {
		d.retryMu.Unlock()
		return
	}
	d.wg.Add(1)
	d.retryMu.Unlock()

	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(d.opts.DumpRetryDelay)
		defer timer.Stop()
		select {
		case <-d.ctx.Done():
			return
		case <-timer.C:
		}
		ts := d.clock.Load()
		d.logger.Info("retrying dump", "timestamp", ts)
		if err := d.opts.Durable.StartDump(ts, d.DumpCompleted); err != nil {
			d.DumpCompleted(durable.DumpResult{Timestamp: ts, Err: err})
		}
	}()
}

func (d *Dealer) waitForDump(ctx context.Context) error {
	if !d.dumping.Load() {
		return nil
	}
	ticker := time.NewTicker(d.opts.DumpPollInterval)
	defer ticker.Stop()
	for d.dumping.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Dump forces a switch, persists the dynamic data and any registered
// Dumpers, then blocks until the durable dump has completed.
func (d *Dealer) Dump(ctx context.Context) error {
	if _, err := d.SwitchIndexesOnce(ctx, true); err != nil {
		return fmt.Errorf("forcing switch: %w", err)
	}
	if err := d.opts.Boosts.Dump(ctx); err != nil {
		return fmt.Errorf("dumping dynamic data: %w", err)
	}
	for _, dumper := range d.opts.Dumpers {
		if err := dumper.Dump(ctx); err != nil {
			return fmt.Errorf("dumping: %w", err)
		}
	}
	return d.waitForDump(ctx)
}

// Dumping reports whether a dump is in flight or waiting to be retried.
func (d *Dealer) Dumping() bool {
	return d.dumping.Load()
}

// Del removes id from both indices and drops its boosts.
func (d *Dealer) Del(ctx context.Context, id search.DocID) error {
	d.mu.RLock()
	d.rti.Del(id)
	d.opts.Durable.Del(id)
	d.clock.Add(1)
	d.mu.RUnlock()

	if m := d.opts.Metrics; m != nil {
		m.DocsDeletedTotal.Inc()
	}
	if err := d.opts.Boosts.RemoveBoosts(ctx, id); err != nil {
		return fmt.Errorf("removing boosts for %s: %w", id, err)
	}
	return nil
}

func (d *Dealer) UpdateBoosts(ctx context.Context, id search.DocID, boostValues []float64) error {
	return d.opts.Boosts.SetBoosts(ctx, id, boostValues)
}

func (d *Dealer) UpdateCategories(ctx context.Context, id search.DocID, values map[string]string) error {
	return d.opts.Boosts.SetCategoryValues(ctx, id, values)
}

func (d *Dealer) UpdateTimestamp(ctx context.Context, id search.DocID, ts int64) error {
	return d.opts.Boosts.SetTimestamp(ctx, id, ts)
}

// Matcher returns a search session over the durable index and the RTI. The
// session keeps the generations it captured for as long as it is used.
func (d *Dealer) Matcher() search.QueryMatcher {
	return merger.NewBlender(d.opts.Durable, d.rti.SearchSession())
}

// Search returns the window [offset, offset+limit) of the ranked results.
func (d *Dealer) Search(ctx context.Context, q search.Query, filter search.DocFilter, offset, limit int) (*search.ResultSet, error) {
	if offset < 0 || limit <= 0 || offset > math.MaxInt-limit {
		return nil, fmt.Errorf("offset %d, limit %d: %w", offset, limit, apperrors.ErrInvalidInput)
	}
	start := time.Now()
	rs, err := d.Matcher().FindMatches(ctx, q, filter, offset+limit, d.opts.Scorer)
	d.recordSearch(start, rs, err)
	if err != nil {
		return nil, err
	}
	return search.Page(rs, offset, limit), nil
}

// Count returns the number of documents matching q.
func (d *Dealer) Count(ctx context.Context, q search.Query, filter search.DocFilter) (int, error) {
	return d.Matcher().CountMatches(ctx, q, filter)
}

func (d *Dealer) recordSearch(start time.Time, rs *search.ResultSet, err error) {
	m := d.opts.Metrics
	if m == nil {
		return
	}
	m.SearchLatency.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, apperrors.ErrInterrupted):
		m.SearchQueriesTotal.WithLabelValues("interrupted").Inc()
	case err != nil:
		m.SearchQueriesTotal.WithLabelValues("error").Inc()
	case len(rs.Matches) == 0:
		m.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
	default:
		m.SearchQueriesTotal.WithLabelValues("hit").Inc()
		m.SearchResultsCount.Observe(float64(len(rs.Matches)))
	}
}

func (d *Dealer) updateGauges() {
	m := d.opts.Metrics
	if m == nil {
		return
	}
	st := d.rti.Stats()
	m.RTIDocCount.WithLabelValues("current").Set(float64(st.Current.Live()))
	m.RTIDocCount.WithLabelValues("marked").Set(float64(st.Marked.Live()))
}

// Stats returns flat, human-readable counters.
func (d *Dealer) Stats() map[string]string {
	st := d.rti.Stats()
	out := map[string]string{
		"rti.size":             humanize.Comma(int64(d.opts.RTISize)),
		"rti.admitted":         humanize.Comma(d.admitted.Load()),
		"rti.current.docs":     humanize.Comma(int64(st.Current.Live())),
		"rti.current.slots":    humanize.Comma(int64(st.Current.Slots)),
		"rti.current.deletes":  humanize.Comma(int64(st.Current.Deletes)),
		"rti.current.terms":    humanize.Comma(int64(st.Current.Terms)),
		"rti.marked":           strconv.FormatBool(st.IsMarked),
		"dumping":              strconv.FormatBool(d.dumping.Load()),
		"clock":                strconv.FormatInt(d.clock.Load(), 10),
		"boosts.entries":       humanize.Comma(int64(d.opts.Boosts.Len())),
		"checkpoint.timestamp": strconv.FormatInt(d.restored.Timestamp, 10),
	}
	if st.IsMarked {
		out["rti.marked.docs"] = humanize.Comma(int64(st.Marked.Live()))
		out["rti.marked.terms"] = humanize.Comma(int64(st.Marked.Terms))
	}
	if last := d.lastDump.Load(); last != nil {
		out["checkpoint.timestamp"] = strconv.FormatInt(last.Timestamp, 10)
		out["last_dump.id"] = last.ID
		out["last_dump.docs"] = humanize.Comma(int64(last.Docs))
		out["last_dump.duration"] = last.Duration.String()
	}
	if ds, ok := d.opts.Durable.(interface{ Stats() durable.Stats }); ok {
		dst := ds.Stats()
		out["durable.segments"] = humanize.Comma(int64(dst.Segments))
		out["durable.docs"] = humanize.Comma(int64(dst.Docs))
		out["durable.deleted"] = humanize.Comma(int64(dst.Deleted))
		out["durable.terms"] = humanize.Comma(int64(dst.Terms))
		out["durable.pending"] = humanize.Comma(int64(dst.Pending))
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	out["memory.heap"] = humanize.Bytes(mem.HeapAlloc)
	out["memory.sys"] = humanize.Bytes(mem.Sys)
	return out
}

// Close stops pending dump retries. It does not wait for an in-flight dump;
// closing the durable index does.
func (d *Dealer) Close() {
	d.retryMu.Lock()
	d.closed = true
	d.retryMu.Unlock()
	d.cancel()
	d.wg.Wait()
}
