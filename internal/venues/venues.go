// Package venues defines the polymorphic contract every venue adapter
// implements, plus the connection state machine they share. One adapter
// instance serves one (venue, account) pair; instances own their credentials,
// rate-limit window and sockets exclusively.
package venues

import (
	"context"
	"time"

	"github.com/openfolio/venuelink/internal/schema"
)

// TradeQuery narrows a trade-history request. Zero values mean "no filter".
type TradeQuery struct {
	Symbol string
	Since  time.Time
	Limit  int
}

// TransferQuery narrows a deposit/withdraw-history request.
type TransferQuery struct {
	Asset string
	Since time.Time
	Limit int
}

// Adapter is implemented identically by every venue. All pull queries pass
// through the adapter's rate limiter and retry policy; push events flow
// through the subscription callbacks. Push support is optional and its
// absence never surfaces as an error from Connect.
type Adapter interface {
	Info() schema.ExchangeInfo

	// Connect stores credentials and issues one authenticated probe. On
	// success the adapter is connected and, where supported, the push
	// channel is opened best-effort. Failure leaves the adapter
	// disconnected with no credential material retained.
	Connect(ctx context.Context, creds schema.Credentials) error
	// Disconnect is idempotent: it stops timers, closes sockets, and
	// discards credentials. Safe to call at any point in the lifecycle.
	Disconnect()
	// IsConnected reflects the REST-session state only, never the push
	// channel state.
	IsConnected() bool
	// TestConnection probes venue reachability without credentials.
	TestConnection(ctx context.Context) bool

	SpotBalances(ctx context.Context) ([]schema.Balance, error)
	FuturesBalances(ctx context.Context) ([]schema.Balance, error)
	FuturesPositions(ctx context.Context) ([]schema.Position, error)
	EarnPositions(ctx context.Context) ([]schema.EarnPosition, error)
	TradeHistory(ctx context.Context, q TradeQuery) ([]schema.Trade, error)
	DepositHistory(ctx context.Context, q TransferQuery) ([]schema.Transfer, error)
	WithdrawHistory(ctx context.Context, q TransferQuery) ([]schema.Transfer, error)
	FundingRates(ctx context.Context, symbols []string) ([]schema.FundingRate, error)

	SubscribeBalanceUpdates(fn func(schema.BalanceEvent)) func()
	SubscribePositionUpdates(fn func(schema.PositionEvent)) func()
}
