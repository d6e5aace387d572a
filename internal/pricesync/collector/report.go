package collector

import (
	"fmt"
	"path/filepath"
	"strings"

	"pricesync/internal/market"
	"pricesync/internal/pricesync/scheduler"
)

const (
	bannerWidth     = 60
	previewSymbols  = 10
	maxNameWidth    = 40
	bannerSeparator = "="
)

// RunResult is the outcome for one security.
type RunResult struct {
	Symbol        string
	Success       bool
	RowsAttempted int
	RowsAdded     int
	Err           error
}

// ChunkResult aggregates the results of one chunk. A skipped chunk has no
// results.
type ChunkResult struct {
	Index   int
	Skipped bool
	Results []RunResult
}

func (c ChunkResult) Successful() int {
	n := 0
	for _, r := range c.Results {
		if r.Success {
			n++
		}
	}
	return n
}

func (c ChunkResult) Failed() int { return len(c.Results) - c.Successful() }

func (c ChunkResult) RowsAdded() int {
	n := 0
	for _, r := range c.Results {
		n += r.RowsAdded
	}
	return n
}

func (c ChunkResult) RowsAttempted() int {
	n := 0
	for _, r := range c.Results {
		n += r.RowsAttempted
	}
	return n
}

// Summary is the outcome of a run.
type Summary struct {
	State       State
	DryRun      bool
	Total       int   // securities selected
	ChunkCount  int   // chunks planned
	Empty       error // set when nothing was selected
	Quit        bool
	Interrupted bool
	Chunks      []ChunkResult
}

func (s *Summary) Processed() int {
	n := 0
	for _, c := range s.Chunks {
		n += len(c.Results)
	}
	return n
}

func (s *Summary) Successful() int {
	n := 0
	for _, c := range s.Chunks {
		n += c.Successful()
	}
	return n
}

func (s *Summary) Failed() int { return s.Processed() - s.Successful() }

// RowsAdded is the number of newly stored bars.
func (s *Summary) RowsAdded() int {
	n := 0
	for _, c := range s.Chunks {
		n += c.RowsAdded()
	}
	return n
}

// RowsAttempted is the number of bars handed to the store, duplicates
// included.
func (s *Summary) RowsAttempted() int {
	n := 0
	for _, c := range s.Chunks {
		n += c.RowsAttempted()
	}
	return n
}

func (s *Summary) FailedResults() []RunResult {
	var out []RunResult
	for _, c := range s.Chunks {
		for _, r := range c.Results {
			if !r.Success {
				out = append(out, r)
			}
		}
	}
	return out
}

func banner() string { return strings.Repeat(bannerSeparator, bannerWidth) }

func (c *Collector) printHeader() {
	path := c.Options.StorePath
	if abs, err := filepath.Abs(path); err == nil && path != "" {
		path = abs
	}
	fmt.Fprintln(c.Out, banner())
	fmt.Fprintln(c.Out, "Ticker Price Sync")
	fmt.Fprintln(c.Out, banner())
	if path != "" {
		fmt.Fprintf(c.Out, "Database: %s\n", path)
	}
	fmt.Fprintf(c.Out, "Chunk size: %d\n", c.Options.ChunkSize)
	if len(c.Options.Symbols) > 0 {
		fmt.Fprintf(c.Out, "Tickers: %s\n", strings.Join(c.Options.Symbols, ", "))
	}
	if c.Options.DryRun {
		fmt.Fprintln(c.Out, "Mode: DRY RUN (no data will be fetched or saved)")
	}
}

func (c *Collector) printEmpty() {
	switch {
	case len(c.Options.Symbols) > 0:
		fmt.Fprintf(c.Out, "\nNo matching tickers found for: %s\n", strings.Join(c.Options.Symbols, ", "))
	default:
		fmt.Fprintln(c.Out, "\nNo tickers found in database")
	}
}

func (c *Collector) printPlan(total, chunks int) {
	fmt.Fprintf(c.Out, "\nFound %d tickers\n", total)
	fmt.Fprintf(c.Out, "Will process in %d chunks of up to %d tickers each\n", chunks, c.Options.ChunkSize)
}

func (c *Collector) printChunkHeader(chunk scheduler.Chunk) {
	symbols := make([]string, 0, previewSymbols)
	for i, s := range chunk.Securities {
		if i == previewSymbols {
			break
		}
		symbols = append(symbols, s.Symbol)
	}
	preview := strings.Join(symbols, ", ")
	if more := len(chunk.Securities) - len(symbols); more > 0 {
		preview += fmt.Sprintf(" ... and %d more", more)
	}

	fmt.Fprintf(c.Out, "\n%s\n", banner())
	fmt.Fprintf(c.Out, "Processing Chunk %d/%d (%d tickers)\n", chunk.Index, chunk.Total, len(chunk.Securities))
	fmt.Fprintf(c.Out, "Tickers: %s\n", preview)
	fmt.Fprintln(c.Out, banner())
}

func (c *Collector) printSecurityHeader(j, n int, sec market.Security) {
	if sec.Name == "" {
		fmt.Fprintf(c.Out, "\n[%d/%d] Processing %s...\n", j, n, sec.Symbol)
		return
	}
	fmt.Fprintf(c.Out, "\n[%d/%d] Processing %s - %s...\n", j, n, sec.Symbol, truncate(sec.Name, maxNameWidth))
}

func (c *Collector) printChunkSummary(cr ChunkResult) {
	fmt.Fprintf(c.Out, "\nChunk %d summary:\n", cr.Index)
	fmt.Fprintf(c.Out, "  Successful: %d\n", cr.Successful())
	fmt.Fprintf(c.Out, "  Failed: %d\n", cr.Failed())
	fmt.Fprintf(c.Out, "  Rows added: %d\n", cr.RowsAdded())
}

func (c *Collector) printSummary(sum *Summary) {
	fmt.Fprintf(c.Out, "\n%s\n", banner())
	fmt.Fprintln(c.Out, "FINAL SUMMARY")
	fmt.Fprintln(c.Out, banner())
	fmt.Fprintf(c.Out, "Status: %s\n", sum.State)
	fmt.Fprintf(c.Out, "Tickers processed: %d/%d\n", sum.Processed(), sum.Total)
	fmt.Fprintf(c.Out, "Successful: %d\n", sum.Successful())
	fmt.Fprintf(c.Out, "Failed: %d\n", sum.Failed())
	fmt.Fprintf(c.Out, "Rows added: %d (%d fetched)\n", sum.RowsAdded(), sum.RowsAttempted())

	if len(sum.Chunks) > 0 {
		fmt.Fprintln(c.Out, "\nChunks:")
		for _, cr := range sum.Chunks {
			if cr.Skipped {
				fmt.Fprintf(c.Out, "  Chunk %d/%d: skipped\n", cr.Index, sum.ChunkCount)
				continue
			}
			fmt.Fprintf(c.Out, "  Chunk %d/%d: %d successful, %d failed, %d rows added\n",
				cr.Index, sum.ChunkCount, cr.Successful(), cr.Failed(), cr.RowsAdded())
		}
	}

	if failed := sum.FailedResults(); len(failed) > 0 {
		fmt.Fprintln(c.Out, "\nFailed tickers:")
		for _, r := range failed {
			fmt.Fprintf(c.Out, "  %s: %v\n", r.Symbol, r.Err)
		}
	}

	if sum.DryRun {
		fmt.Fprintln(c.Out, "\n[DRY RUN] No data was fetched or saved")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
