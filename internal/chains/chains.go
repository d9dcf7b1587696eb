// Package chains defines the provider contract every blockchain data source
// implements, plus the normalized records they return.
package chains

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Balance is one asset held by an address on one chain. Token balances
// carry the contract (or mint) address; native balances leave it empty.
type Balance struct {
	Chain        string
	Symbol       string
	Name         string
	TokenAddress string
	Amount       decimal.Decimal
	Decimals     int32
	ValueUSD     decimal.Decimal
}

// Native reports whether the balance is the chain's native asset.
func (b Balance) Native() bool { return b.TokenAddress == "" }

// TxRecord is one historical transfer touching an address.
type TxRecord struct {
	Chain     string
	Hash      string
	Symbol    string
	Amount    decimal.Decimal
	From      string
	To        string
	Incoming  bool
	Timestamp time.Time
}

// HistoryQuery narrows a transaction-history request.
type HistoryQuery struct {
	Since time.Time
	Limit int
}

// Provider is the per-chain read contract consumed by the wallet
// aggregator.
type Provider interface {
	// Chain names the provider, e.g. "ethereum" or "solana".
	Chain() string
	// NativeBalance returns the chain's base-asset balance for the address.
	NativeBalance(ctx context.Context, address string) (Balance, error)
	// TokenBalances discovers and returns non-zero token balances.
	TokenBalances(ctx context.Context, address string) ([]Balance, error)
	// TransactionHistory returns recent transfers touching the address.
	TransactionHistory(ctx context.Context, address string, q HistoryQuery) ([]TxRecord, error)
}
