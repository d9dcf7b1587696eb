// Package schema defines the normalized data model every venue adapter and
// chain provider maps into. Entities are created fresh per query or event
// and carry no venue-specific fields.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Venue names a supported venue integration.
type Venue string

const (
	VenueBinance     Venue = "binance"
	VenueOKX         Venue = "okx"
	VenueUpbit       Venue = "upbit"
	VenueHyperliquid Venue = "hyperliquid"
	VenueDydx        Venue = "dydx"
)

// Credentials is the opaque key material handed to an adapter's Connect.
// For read-only perp-DEX venues the wallet address goes in Key and Secret
// stays empty. Credentials redact themselves from logs and formatted output.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
}

// Empty reports whether no key material is present.
func (c Credentials) Empty() bool {
	return c.Key == "" && c.Secret == "" && c.Passphrase == ""
}

// String implements fmt.Stringer. Key material never appears in output.
func (c Credentials) String() string { return "credentials(redacted)" }

// GoString implements fmt.GoStringer so %#v stays redacted too.
func (c Credentials) GoString() string { return "schema.Credentials{redacted}" }

// BalanceType tags which venue account a balance belongs to.
type BalanceType string

const (
	BalanceSpot    BalanceType = "spot"
	BalanceFutures BalanceType = "futures"
	BalanceMargin  BalanceType = "margin"
	BalanceEarn    BalanceType = "earn"
)

// Balance is a normalized asset balance. Total is always Free+Locked.
type Balance struct {
	Asset    string
	Free     decimal.Decimal
	Locked   decimal.Decimal
	Total    decimal.Decimal
	Type     BalanceType
	ValueUSD decimal.Decimal
}

// NewBalance builds a balance with the total derived from free+locked.
func NewBalance(asset string, free, locked decimal.Decimal, typ BalanceType) Balance {
	return Balance{
		Asset:  asset,
		Free:   free,
		Locked: locked,
		Total:  free.Add(locked),
		Type:   typ,
	}
}

// IsZero reports whether the balance carries no value and should be dropped
// from list results.
func (b Balance) IsZero() bool { return b.Total.IsZero() }

// PositionSide is derived from the sign of the venue's size field.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// MarginMode distinguishes cross from isolated margin.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// Position is a normalized derivatives position. Size is absolute and
// strictly positive; zero-size positions are excluded from results.
type Position struct {
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      decimal.Decimal
	MarginMode    MarginMode
	Margin        decimal.Decimal
	Notional      decimal.Decimal
}

// NewPosition derives side and absolute size from a signed venue size.
// A zero signed size returns ok=false and the position must be dropped.
func NewPosition(symbol string, signedSize decimal.Decimal) (Position, bool) {
	if signedSize.IsZero() {
		return Position{}, false
	}
	side := PositionLong
	if signedSize.IsNegative() {
		side = PositionShort
	}
	return Position{Symbol: symbol, Side: side, Size: signedSize.Abs()}, true
}

// TradeSide distinguishes buys from sells.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade is an immutable record of a past fill.
type Trade struct {
	ID        string
	Symbol    string
	Side      TradeSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Fee       decimal.Decimal
	FeeAsset  string
	Timestamp time.Time
}

// TransferDirection distinguishes deposits from withdrawals.
type TransferDirection string

const (
	TransferDeposit    TransferDirection = "deposit"
	TransferWithdrawal TransferDirection = "withdrawal"
)

// TransferStatus is the closed status set every venue code maps onto.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// Transfer is an immutable record of a past deposit or withdrawal.
type Transfer struct {
	ID        string
	Asset     string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Direction TransferDirection
	Status    TransferStatus
	Address   string
	TxID      string
	Network   string
	Timestamp time.Time
}

// EarnPosition is an immutable snapshot of a staking/earn product holding.
type EarnPosition struct {
	Asset     string
	Product   string
	Amount    decimal.Decimal
	APR       decimal.Decimal
	Flexible  bool
	Timestamp time.Time
}

// FundingRate is an immutable perpetual funding-rate observation.
type FundingRate struct {
	Symbol      string
	Rate        decimal.Decimal
	MarkPrice   decimal.Decimal
	NextFunding time.Time
	Interval    time.Duration
}

// ExchangeInfo is a static capability descriptor consumed by callers to
// avoid invoking unsupported operations.
type ExchangeInfo struct {
	Venue       Venue
	DisplayName string
	ReadOnly    bool

	HasSpot        bool
	HasFutures     bool
	HasEarn        bool
	HasTransfers   bool
	HasFunding     bool
	HasStreaming   bool
	RequiresSecret bool
}

// BalanceEvent is a push-channel balance delta.
type BalanceEvent struct {
	Venue     Venue
	Balance   Balance
	Timestamp time.Time
}

// PositionEvent is a push-channel position delta.
type PositionEvent struct {
	Venue     Venue
	Position  Position
	Timestamp time.Time
}
