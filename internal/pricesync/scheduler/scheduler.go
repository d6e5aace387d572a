// Package scheduler splits the security list into chunks and decides,
// between chunks, whether the run proceeds.
package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"pricesync/internal/market"
)

// Chunk is a contiguous slice of the security list. Index is 1-based.
type Chunk struct {
	Index      int
	Total      int
	Securities []market.Security
}

// Partition splits secs into ceil(len/size) chunks of at most size
// securities, preserving order.
func Partition(secs []market.Security, size int) []Chunk {
	if size < 1 {
		size = 1
	}
	total := (len(secs) + size - 1) / size
	chunks := make([]Chunk, 0, total)
	for start := 0; start < len(secs); start += size {
		end := min(start+size, len(secs))
		chunks = append(chunks, Chunk{
			Index:      len(chunks) + 1,
			Total:      total,
			Securities: secs[start:end],
		})
	}
	return chunks
}

type Decision int

const (
	Proceed Decision = iota
	Skip
	Quit
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Quit:
		return "quit"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// Gate is consulted before every chunk after the first.
type Gate interface {
	Confirm(ctx context.Context, chunk Chunk) (Decision, error)
}

// AutoGate proceeds with every chunk. It is used for dry runs and unattended
// runs.
type AutoGate struct{}

func (AutoGate) Confirm(ctx context.Context, _ Chunk) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Quit, err
	}
	return Proceed, nil
}

// PromptGate asks the operator on Out and reads the answer from In.
// "y" proceeds, "q" quits and anything else skips the chunk. End of input
// quits.
type PromptGate struct {
	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger

	lines chan readResult
}

type readResult struct {
	line string
	err  error
}

// Confirm blocks until an answer arrives or ctx is done. On cancellation it
// returns Quit with the context error.
func (g *PromptGate) Confirm(ctx context.Context, chunk Chunk) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Quit, err
	}
	if g.lines == nil {
		g.lines = make(chan readResult)
		go g.readLines()
	}

	fmt.Fprintf(g.Out, "\nReady to process chunk %d/%d? (y/n/q): ", chunk.Index, chunk.Total)

	select {
	case <-ctx.Done():
		fmt.Fprintln(g.Out)
		return Quit, ctx.Err()
	case res, ok := <-g.lines:
		if !ok || res.err != nil {
			if res.err != nil && res.err != io.EOF {
				g.Logger.Warn("failed to read confirmation", zap.Error(res.err))
			}
			fmt.Fprintln(g.Out)
			return Quit, nil
		}
		d := parseAnswer(res.line)
		g.Logger.Info("chunk confirmation",
			zap.Int("chunk", chunk.Index),
			zap.String("answer", res.line),
			zap.Stringer("decision", d),
		)
		return d, nil
	}
}

// readLines runs for the life of the gate. A blocked read cannot be
// interrupted, so it lives outside Confirm.
func (g *PromptGate) readLines() {
	defer close(g.lines)
	r := bufio.NewReader(g.In)
	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			g.lines <- readResult{err: err}
			return
		}
		g.lines <- readResult{line: strings.TrimSpace(line)}
		if err != nil {
			g.lines <- readResult{err: err}
			return
		}
	}
}

func parseAnswer(s string) Decision {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return Proceed
	case "q", "quit":
		return Quit
	}
	return Skip
}
