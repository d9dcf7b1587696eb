// Package prices defines the quote-service contract the aggregation layer
// consumes. The production quote feed is an external collaborator; a static
// in-memory implementation ships for tests and dry runs.
package prices

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Quote is one USD price observation.
type Quote struct {
	PriceUSD  decimal.Decimal
	Change24h decimal.Decimal
}

// Service resolves USD quotes for a set of symbols. Unknown symbols are
// simply absent from the result, never an error.
type Service interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Static is a fixed in-memory quote table. Symbol lookup is
// case-insensitive.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

var _ Service = (*Static)(nil)

// NewStatic builds a static service from a symbol-to-quote table.
func NewStatic(quotes map[string]Quote) *Static {
	normalized := make(map[string]Quote, len(quotes))
	for symbol, quote := range quotes {
		normalized[strings.ToUpper(symbol)] = quote
	}
	return &Static{mu: sync.RWMutex{}, quotes: normalized}
}

// Set replaces the quote for one symbol.
func (s *Static) Set(symbol string, quote Quote) {
	s.mu.Lock()
	s.quotes[strings.ToUpper(symbol)] = quote
	s.mu.Unlock()
}

// GetPrices returns quotes for the symbols the table knows.
func (s *Static) GetPrices(_ context.Context, symbols []string) (map[string]Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Quote, len(symbols))
	for _, symbol := range symbols {
		if quote, ok := s.quotes[strings.ToUpper(symbol)]; ok {
			out[symbol] = quote
		}
	}
	return out, nil
}
