// Package fetcher retrieves daily price bars from an upstream provider for a
// single security, starting after its watermark.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"pricesync/internal/market"
)

var (
	// ErrUnknownSymbol is returned by providers that do not know a symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrRejected marks provider responses that will not succeed on retry.
	ErrRejected = errors.New("request rejected by provider")
)

// Provider returns daily bars for symbol dated on or after from. A zero from
// requests the full available history.
type Provider interface {
	Name() string
	DailyBars(ctx context.Context, symbol string, from market.Date) ([]market.PriceBar, error)
}

// FetchError reports a failed fetch for one symbol.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Policy bounds each provider call and the retries around it.
type Policy struct {
	Timeout         time.Duration // per attempt; zero means no timeout
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Fetcher struct {
	provider Provider
	policy   Policy
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Fetcher)

// WithClock replaces time.Now for the up-to-date check.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func New(provider Provider, policy Policy, logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		provider: provider,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) ProviderName() string { return f.provider.Name() }

// Fetch returns the bars dated strictly after since, ascending by date. A
// zero since fetches the full history. When since+1 is not before today no
// request is made and the result is empty. Failures are returned as
// *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, since market.Date) ([]market.PriceBar, error) {
	log := f.logger.With(zap.String("symbol", symbol))

	var from market.Date
	if !since.IsZero() {
		from = since.AddDays(1)
		today := market.DateOf(f.now().UTC())
		if !from.Before(today) {
			log.Info("Already up to date", zap.Stringer("last", since))
			return nil, nil
		}
	}

	var bars []market.PriceBar
	attempt := 0
	op := func() error {
		attempt++
		var err error
		bars, err = f.call(ctx, symbol, from)
		if err != nil && f.permanent(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, f.backOff(ctx), notify); err != nil {
		return nil, &FetchError{Symbol: symbol, Err: err}
	}

	bars = normalize(bars, since)
	if len(bars) == 0 {
		log.Info("No data available", zap.Stringer("from", from))
		return nil, nil
	}
	log.Debug("fetched bars",
		zap.Int("count", len(bars)),
		zap.Stringer("first", bars[0].Date),
		zap.Stringer("last", bars[len(bars)-1].Date),
	)
	return bars, nil
}

func (f *Fetcher) call(ctx context.Context, symbol string, from market.Date) ([]market.PriceBar, error) {
	if f.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.policy.Timeout)
		defer cancel()
	}
	return f.provider.DailyBars(ctx, symbol, from)
}

// permanent reports whether err must not be retried. A timed out attempt is
// retried unless the run itself was cancelled.
func (f *Fetcher) permanent(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil:
		return true
	case errors.Is(err, ErrUnknownSymbol), errors.Is(err, ErrRejected):
		return true
	}
	return false
}

func (f *Fetcher) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if f.policy.InitialInterval > 0 {
		eb.InitialInterval = f.policy.InitialInterval
	}
	if f.policy.MaxInterval > 0 {
		eb.MaxInterval = f.policy.MaxInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := f.policy.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// normalize drops undated bars and bars on or before since, orders by date
// and keeps the first bar seen for each date.
func normalize(bars []market.PriceBar, since market.Date) []market.PriceBar {
	out := make([]market.PriceBar, 0, len(bars))
	seen := make(map[market.Date]bool, len(bars))
	for _, b := range bars {
		if b.Date.IsZero() || seen[b.Date] {
			continue
		}
		if !since.IsZero() && !b.Date.After(since) {
			continue
		}
		seen[b.Date] = true
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
