// Package collector drives a synchronization run: for every selected
// security it resolves the watermark, fetches newer bars and persists them,
// chunk by chunk, and reports what happened.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricesync/internal/market"
	"pricesync/internal/pricesync/registry"
	"pricesync/internal/pricesync/scheduler"
)

// Store is the watermark store and persister for one run. The collector
// owns it and closes it when the run ends.
type Store interface {
	LatestDate(ctx context.Context, tickerID int64) (market.Date, bool, error)
	InsertPrices(ctx context.Context, tickerID int64, bars []market.PriceBar) (market.PersistResult, error)
	Close() error
}

type Fetcher interface {
	Fetch(ctx context.Context, symbol string, since market.Date) ([]market.PriceBar, error)
}

// Options is the run configuration. It is fixed before the run starts.
type Options struct {
	ChunkSize    int
	Symbols      []string
	DryRun       bool
	StorePath    string
	RequestDelay time.Duration
	AssumeYes    bool
}

type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var errAlreadyRun = errors.New("collector: run already started")

type Collector struct {
	Options  Options
	Registry *registry.Registry
	Store    Store
	Fetcher  Fetcher
	Gate     scheduler.Gate // used unless DryRun or AssumeYes
	Out      io.Writer
	Logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
	closeErr  error
}

func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Run performs one synchronization run and always closes the store before
// returning. Empty selections end the run early with Summary.Empty set.
// Interruption through ctx and quitting at a gate end the run in the
// Aborted state with the statistics gathered so far; neither is an error.
func (c *Collector) Run(ctx context.Context) (*Summary, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, errAlreadyRun
	}
	c.state = Running
	c.mu.Unlock()
	defer c.Close()

	sum := &Summary{DryRun: c.Options.DryRun}
	c.printHeader()

	secs, err := c.Registry.Securities(ctx, c.Options.Symbols)
	switch {
	case errors.Is(err, registry.ErrNoTickers), errors.Is(err, registry.ErrNoMatchingTickers):
		c.Logger.Warn("nothing to process", zap.Error(err))
		c.printEmpty()
		sum.Empty = err
		c.finish(sum, Completed)
		return sum, nil
	case err != nil:
		c.finish(sum, Aborted)
		return sum, err
	}

	chunks := scheduler.Partition(secs, c.Options.ChunkSize)
	sum.Total = len(secs)
	sum.ChunkCount = len(chunks)
	c.printPlan(len(secs), len(chunks))
	c.Logger.Info("starting run",
		zap.Int("securities", len(secs)),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", c.Options.ChunkSize),
		zap.Bool("dry_run", c.Options.DryRun),
	)

	gate := c.gate()
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if i > 0 {
			decision, err := gate.Confirm(ctx, chunk)
			if err != nil {
				sum.Interrupted = true
				break
			}
			if decision == scheduler.Skip {
				c.Logger.Info("skipping chunk", zap.Int("chunk", chunk.Index))
				fmt.Fprintf(c.Out, "Skipping chunk %d\n", chunk.Index)
				sum.Chunks = append(sum.Chunks, ChunkResult{Index: chunk.Index, Skipped: true})
				continue
			}
			if decision == scheduler.Quit {
				c.Logger.Info("quit requested", zap.Int("chunk", chunk.Index))
				fmt.Fprintln(c.Out, "Quitting...")
				sum.Quit = true
				break
			}
		}

		cr, interrupted := c.runChunk(ctx, chunk, i == len(chunks)-1)
		sum.Chunks = append(sum.Chunks, cr)
		c.printChunkSummary(cr)
		if interrupted {
			sum.Interrupted = true
			break
		}
	}

	if sum.Interrupted {
		c.Logger.Warn("run interrupted", zap.Int("processed", sum.Processed()))
		fmt.Fprintln(c.Out, "\nInterrupted by user")
	}

	state := Completed
	if sum.Interrupted || sum.Quit {
		state = Aborted
	}
	c.finish(sum, state)
	return sum, nil
}

func (c *Collector) finish(sum *Summary, state State) {
	c.setState(state)
	sum.State = state
	if sum.Empty == nil {
		c.printSummary(sum)
	}
	c.Logger.Info("run finished",
		zap.Stringer("state", state),
		zap.Int("processed", sum.Processed()),
		zap.Int("successful", sum.Successful()),
		zap.Int("failed", sum.Failed()),
		zap.Int("rows_added", sum.RowsAdded()),
	)
}

func (c *Collector) gate() scheduler.Gate {
	if c.Options.DryRun || c.Options.AssumeYes || c.Gate == nil {
		return scheduler.AutoGate{}
	}
	return c.Gate
}

// runChunk processes the chunk's securities in order. It stops early, and
// reports interrupted, once ctx is done.
func (c *Collector) runChunk(ctx context.Context, chunk scheduler.Chunk, lastChunk bool) (ChunkResult, bool) {
	cr := ChunkResult{Index: chunk.Index}
	c.printChunkHeader(chunk)

	n := len(chunk.Securities)
	for j, sec := range chunk.Securities {
		if ctx.Err() != nil {
			return cr, true
		}

		res, interrupted := c.processSecurity(ctx, j+1, n, sec)
		if interrupted {
			return cr, true
		}
		cr.Results = append(cr.Results, res)

		if c.Options.DryRun || (lastChunk && j == n-1) {
			continue
		}
		if err := c.wait(ctx, c.Options.RequestDelay); err != nil {
			return cr, true
		}
	}
	return cr, false
}

// processSecurity runs watermark, fetch and persist for one security.
// Failures are returned as an unsuccessful RunResult. The bool result is
// true when ctx ended the work before an outcome was known.
func (c *Collector) processSecurity(ctx context.Context, j, n int, sec market.Security) (RunResult, bool) {
	log := c.Logger.With(zap.String("symbol", sec.Symbol), zap.Int64("ticker_id", sec.ID))
	res := RunResult{Symbol: sec.Symbol}
	c.printSecurityHeader(j, n, sec)

	since, ok, err := c.Store.LatestDate(ctx, sec.ID)
	if err != nil {
		if ctx.Err() != nil {
			return res, true
		}
		return c.fail(log, res, fmt.Errorf("read watermark: %w", err)), false
	}
	if ok {
		log.Info("Last data from", zap.Stringer("date", since))
		fmt.Fprintf(c.Out, "  Last data from %s\n", since)
	} else {
		log.Info("No existing data, fetching full history")
		fmt.Fprintln(c.Out, "  No existing data, fetching full history")
	}

	if c.Options.DryRun {
		fmt.Fprintln(c.Out, "  [DRY RUN] Skipping fetch and insert")
		res.Success = true
		return res, false
	}

	bars, err := c.Fetcher.Fetch(ctx, sec.Symbol, since)
	if err != nil {
		if ctx.Err() != nil {
			return res, true
		}
		return c.fail(log, res, err), false
	}
	if ctx.Err() != nil {
		return res, true
	}
	if len(bars) == 0 {
		fmt.Fprintln(c.Out, "  No new data")
		res.Success = true
		return res, false
	}

	pr, err := c.Store.InsertPrices(ctx, sec.ID, bars)
	if err != nil {
		return c.fail(log, res, fmt.Errorf("persist %d bars: %w", len(bars), err)), false
	}
	res.Success = true
	res.RowsAttempted = pr.Attempted
	res.RowsAdded = pr.Inserted

	log.Info("stored bars",
		zap.Int("attempted", pr.Attempted),
		zap.Int("inserted", pr.Inserted),
		zap.Stringer("through", bars[len(bars)-1].Date),
	)
	fmt.Fprintf(c.Out, "  Added %d new rows (%d fetched)\n", pr.Inserted, pr.Attempted)
	return res, false
}

func (c *Collector) fail(log *zap.Logger, res RunResult, err error) RunResult {
	log.Error("failed to process security", zap.Error(err))
	fmt.Fprintf(c.Out, "  Error: %v\n", err)
	res.Success = false
	res.Err = err
	return res
}

func (c *Collector) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close releases the store. It is safe to call more than once; the store is
// closed exactly once.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		if c.Store == nil {
			return
		}
		c.closeErr = c.Store.Close()
		if c.closeErr != nil {
			c.Logger.Error("failed to close store", zap.Error(c.closeErr))
			return
		}
		c.Logger.Debug("store closed")
	})
	return c.closeErr
}
