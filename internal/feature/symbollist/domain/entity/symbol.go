// Package entity defines the domain models for the symbollist feature.
package entity

import "time"

// Symbol is an instrument registered for batch ingest and listing.
// Code is the identifier the configured market feed understands, e.g. "AAPL" or "BTC-USDT".
type Symbol struct {
	Code      string
	Name      string
	Exchange  string
	IsActive  bool
	SortKey   int
	UpdatedAt time.Time
}
