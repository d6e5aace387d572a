package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"pricesync/internal/market"
)

var (
	// ErrNoTickers means the store holds no securities at all.
	ErrNoTickers = errors.New("no tickers found in database")
	// ErrNoMatchingTickers means a symbol filter matched nothing.
	ErrNoMatchingTickers = errors.New("no matching tickers found")
)

// Lister enumerates tracked securities ordered by symbol. An empty symbols
// slice means all securities.
type Lister interface {
	ListSecurities(ctx context.Context, symbols []string) ([]market.Security, error)
}

type Registry struct {
	Lister Lister
	Logger *zap.Logger
}

// Securities loads the securities to synchronize, restricted to symbols when
// given. Empty results are reported as ErrNoTickers or ErrNoMatchingTickers
// so the caller can end the run without processing anything.
func (r *Registry) Securities(ctx context.Context, symbols []string) ([]market.Security, error) {
	secs, err := r.Lister.ListSecurities(ctx, symbols)
	if err != nil {
		r.Logger.Error("failed to list securities", zap.Error(err))
		return nil, fmt.Errorf("list securities: %w", err)
	}

	if len(secs) == 0 {
		if len(symbols) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrNoMatchingTickers, symbols)
		}
		return nil, ErrNoTickers
	}

	if missing := missingSymbols(symbols, secs); len(missing) > 0 {
		r.Logger.Warn("requested tickers not in database", zap.Strings("symbols", missing))
	}
	r.Logger.Info("loaded securities", zap.Int("count", len(secs)))

	return secs, nil
}

func missingSymbols(requested []string, found []market.Security) []string {
	var missing []string
	for _, sym := range requested {
		if !slices.ContainsFunc(found, func(s market.Security) bool { return s.Symbol == sym }) {
			missing = append(missing, sym)
		}
	}
	return missing
}
