// Package usecase implements the business logic for symbol-related operations.
package usecase

import (
	"context"
	"fmt"
	"strings"

	"candle_tracker/internal/feature/symbollist/domain/entity"
)

// SymbolRepository abstracts the persistence layer for registered symbols.
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type SymbolRepository interface {
	// ListActive returns active symbols ordered by sort key, then code.
	ListActive(ctx context.Context) ([]entity.Symbol, error)
	ListActiveCodes(ctx context.Context) ([]string, error)
	// Upsert inserts symbols or updates the existing rows with the same code.
	Upsert(ctx context.Context, symbols []entity.Symbol) error
}

// SymbolUsecase provides business logic for symbol operations.
type SymbolUsecase struct {
	repo SymbolRepository
}

// NewSymbolUsecase creates a new SymbolUsecase with the given repository.
func NewSymbolUsecase(r SymbolRepository) *SymbolUsecase {
	return &SymbolUsecase{repo: r}
}

// ListActiveSymbols returns all active symbols from the repository.
func (u *SymbolUsecase) ListActiveSymbols(ctx context.Context) ([]entity.Symbol, error) {
	return u.repo.ListActive(ctx)
}

// RegisterSymbols validates and stores symbols. Codes are trimmed and upper-cased.
func (u *SymbolUsecase) RegisterSymbols(ctx context.Context, symbols []entity.Symbol) error {
	out := make([]entity.Symbol, 0, len(symbols))
	for i, s := range symbols {
		s.Code = strings.ToUpper(strings.TrimSpace(s.Code))
		if s.Code == "" {
			return fmt.Errorf("symbols[%d]: %w", i, ErrInvalidSymbolCode)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return u.repo.Upsert(ctx, out)
}

// IngestCodes returns the symbols a batch ingest should cover.
// Explicitly configured codes win; otherwise the active codes from the registry are used.
func (u *SymbolUsecase) IngestCodes(ctx context.Context, configured []string) ([]string, error) {
	codes := dedupe(configured)
	if len(codes) == 0 {
		var err error
		if codes, err = u.repo.ListActiveCodes(ctx); err != nil {
			return nil, err
		}
	}
	if len(codes) == 0 {
		return nil, ErrNoSymbols
	}
	return codes, nil
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
