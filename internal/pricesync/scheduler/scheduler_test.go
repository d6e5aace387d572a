package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pricesync/internal/market"
)

func securities(n int) []market.Security {
	out := make([]market.Security, n)
	for i := range out {
		out[i] = market.Security{ID: int64(i + 1), Symbol: fmt.Sprintf("S%03d", i)}
	}
	return out
}

// go test -v --run TestPartition
func TestPartition(t *testing.T) {
	for _, n := range []int{0, 1, 49, 50, 51, 100, 101, 257} {
		for _, size := range []int{1, 7, 50} {
			secs := securities(n)
			chunks := Partition(secs, size)

			require.Len(t, chunks, (n+size-1)/size, "n=%d size=%d", n, size)

			var flat []market.Security
			for i, c := range chunks {
				assert.Equal(t, i+1, c.Index)
				assert.Equal(t, len(chunks), c.Total)
				assert.LessOrEqual(t, len(c.Securities), size)
				assert.NotEmpty(t, c.Securities)
				flat = append(flat, c.Securities...)
			}
			assert.Equal(t, len(secs), len(flat))
			for i := range flat {
				assert.Equal(t, secs[i].Symbol, flat[i].Symbol)
			}
		}
	}
}

// go test -v --run TestPartitionClampsSize
func TestPartitionClampsSize(t *testing.T) {
	assert.Len(t, Partition(securities(3), 0), 3)
}

// go test -v --run TestPromptGateAnswers
func TestPromptGateAnswers(t *testing.T) {
	var out bytes.Buffer
	g := &PromptGate{In: strings.NewReader("y\nn\nQ\n"), Out: &out, Logger: zap.NewNop()}
	ctx := context.Background()
	chunk := Chunk{Index: 2, Total: 4}

	want := []Decision{Proceed, Skip, Quit, Quit}
	for i, w := range want {
		d, err := g.Confirm(ctx, chunk)
		require.NoError(t, err)
		assert.Equal(t, w, d, "answer %d", i)
	}
	assert.Contains(t, out.String(), "Ready to process chunk 2/4? (y/n/q): ")
}

// go test -v --run TestPromptGateLastLineWithoutNewline
func TestPromptGateLastLineWithoutNewline(t *testing.T) {
	g := &PromptGate{In: strings.NewReader("yes"), Out: io.Discard, Logger: zap.NewNop()}

	d, err := g.Confirm(context.Background(), Chunk{Index: 2, Total: 2})
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)

	d, err = g.Confirm(context.Background(), Chunk{Index: 3, Total: 3})
	require.NoError(t, err)
	assert.Equal(t, Quit, d)
}

// go test -v --run TestPromptGateCancelled
func TestPromptGateCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	g := &PromptGate{In: r, Out: io.Discard, Logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var (
		d   Decision
		err error
	)
	go func() {
		defer close(done)
		d, err = g.Confirm(ctx, Chunk{Index: 2, Total: 2})
	}()
	cancel()
	<-done

	assert.Equal(t, Quit, d)
	assert.ErrorIs(t, err, context.Canceled)
}

// go test -v --run TestAutoGate
func TestAutoGate(t *testing.T) {
	d, err := AutoGate{}.Confirm(context.Background(), Chunk{Index: 2, Total: 2})
	require.NoError(t, err)
	assert.Equal(t, Proceed, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err = AutoGate{}.Confirm(ctx, Chunk{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Quit, d)
}
