// Package memorystore is an in-memory ticker registry and price store with
// the same duplicate-safe semantics as the relational store. Tests of the
// registry and collector use it in place of a database.
package memorystore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"pricesync/internal/market"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("memorystore: closed")

type Store struct {
	mu         sync.Mutex
	securities []market.Security
	bars       map[int64]map[market.Date]market.PriceBar
	failInsert map[int64]error
	closed     bool

	insertCalls int
	closeCalls  int
}

func New() *Store {
	return &Store{
		bars:       make(map[int64]map[market.Date]market.PriceBar),
		failInsert: make(map[int64]error),
	}
}

// AddSecurity registers a security. IDs are assigned in insertion order
// when sec.ID is zero.
func (s *Store) AddSecurity(sec market.Security) market.Security {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec.ID == 0 {
		sec.ID = int64(len(s.securities) + 1)
	}
	s.securities = append(s.securities, sec)
	return sec
}

// FailInsertFor makes InsertPrices for the ticker return err without
// storing anything.
func (s *Store) FailInsertFor(tickerID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInsert[tickerID] = err
}

func (s *Store) ListSecurities(_ context.Context, symbols []string) ([]market.Security, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]market.Security, 0, len(s.securities))
	for _, sec := range s.securities {
		if len(symbols) > 0 && !slices.Contains(symbols, sec.Symbol) {
			continue
		}
		out = append(out, sec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) LatestDate(_ context.Context, tickerID int64) (market.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return market.Date{}, false, ErrClosed
	}

	var latest market.Date
	for d := range s.bars[tickerID] {
		if d.After(latest) {
			latest = d
		}
	}
	return latest, !latest.IsZero(), nil
}

// InsertPrices stores bars whose date is not yet present for the ticker.
// The batch is validated first so a failure stores nothing.
func (s *Store) InsertPrices(_ context.Context, tickerID int64, bars []market.PriceBar) (market.PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.closed {
		return market.PersistResult{}, ErrClosed
	}
	if len(bars) == 0 {
		return market.PersistResult{}, nil
	}
	if err := s.failInsert[tickerID]; err != nil {
		return market.PersistResult{}, err
	}
	for _, b := range bars {
		if b.Date.IsZero() {
			return market.PersistResult{}, errors.New("memorystore: bar without date")
		}
	}

	store, ok := s.bars[tickerID]
	if !ok {
		store = make(map[market.Date]market.PriceBar)
		s.bars[tickerID] = store
	}

	inserted := 0
	for _, b := range bars {
		if _, exists := store[b.Date]; exists {
			continue
		}
		store[b.Date] = b
		inserted++
	}
	return market.PersistResult{Attempted: len(bars), Inserted: inserted}, nil
}

// Bars returns a copy of the ticker's bars ordered by date.
func (s *Store) Bars(tickerID int64) []market.PriceBar {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]market.PriceBar, 0, len(s.bars[tickerID]))
	for _, b := range s.bars[tickerID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// CountAll returns the total number of bars stored across all tickers.
func (s *Store) CountAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, bars := range s.bars {
		total += len(bars)
	}
	return total
}

func (s *Store) InsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCalls
}

func (s *Store) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	return nil
}
