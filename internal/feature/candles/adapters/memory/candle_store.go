// Package memory provides an in-memory candle store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

// CandleStore is an in-memory implementation of usecase.CandleRepository.
type CandleStore struct {
	mu   sync.RWMutex
	data map[entity.Key]entity.Candle
	byID map[uuid.UUID]entity.Key
}

var _ usecase.CandleRepository = (*CandleStore)(nil)

// NewCandleStore creates an empty store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[entity.Key]entity.Candle),
		byID: make(map[uuid.UUID]entity.Key),
	}
}

// QueryRange returns candles within [from, to] (inclusive), ordered by timestamp ASC.
func (s *CandleStore) QueryRange(_ context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []entity.Candle
	for k, c := range s.data {
		if k.Symbol != symbol || k.TimeFrame != tf {
			continue
		}
		if k.Timestamp.Before(from) || k.Timestamp.After(to) {
			continue
		}
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// GetLatest returns the candle with the greatest timestamp.
func (s *CandleStore) GetLatest(_ context.Context, symbol string, tf timeframe.TimeFrame) (entity.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest entity.Candle
		found  bool
	)
	for k, c := range s.data {
		if k.Symbol != symbol || k.TimeFrame != tf {
			continue
		}
		if !found || c.Timestamp.After(latest.Timestamp) {
			latest, found = c, true
		}
	}
	if !found {
		return entity.Candle{}, usecase.ErrCandleNotFound
	}
	return latest, nil
}

// GetByID returns the candle stored under id.
func (s *CandleStore) GetByID(_ context.Context, id uuid.UUID) (entity.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.byID[id]
	if !ok {
		return entity.Candle{}, usecase.ErrCandleNotFound
	}
	return s.data[k], nil
}

// Len returns the number of stored candles.
func (s *CandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// NewWriter returns a writer staging candles for this store.
func (s *CandleStore) NewWriter() usecase.CandleWriter {
	return &writer{store: s}
}

// insert stores every candle whose key is not present yet and reports whether any was new.
func (s *CandleStore) insert(cs []entity.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := false
	for _, c := range cs {
		k := c.Key()
		if _, exists := s.data[k]; exists {
			continue
		}
		c.Timestamp = k.Timestamp
		s.data[k] = c
		s.byID[c.ID] = k
		inserted = true
	}
	return inserted
}

type writer struct {
	store   *CandleStore
	pending []entity.Candle
}

func (w *writer) AddOne(c entity.Candle) {
	w.pending = append(w.pending, c)
}

func (w *writer) AddMany(cs []entity.Candle) {
	w.pending = append(w.pending, cs...)
}

func (w *writer) Commit(ctx context.Context) (bool, error) {
	pending := w.pending
	w.pending = nil
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}
	return w.store.insert(pending), nil
}
