// Package hyperliquid implements the read-only Hyperliquid adapter. The
// venue is a perp DEX: the wallet address alone grants read access, so
// Connect takes the address in the credential key and no secret.
package hyperliquid

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	hl "github.com/sonirico/go-hyperliquid"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/ratelimit"
	"github.com/openfolio/venuelink/internal/retry"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/venues"
)

// InfoClient is the slice of the Hyperliquid info API the adapter consumes.
// *hl.Info satisfies it; tests substitute a local double.
type InfoClient interface {
	UserState(ctx context.Context, address string) (*hl.UserState, error)
	SpotUserState(ctx context.Context, address string) (*hl.SpotUserState, error)
	UserFills(ctx context.Context, address string) ([]hl.Fill, error)
	MetaAndAssetCtxs(ctx context.Context) (*hl.MetaAndAssetCtxs, error)
}

// Options configures a Hyperliquid adapter instance.
type Options struct {
	Settings config.VenueSettings
	Info     InfoClient
	Clock    func() time.Time
	Log      *logrus.Entry
}

func withDefaults(opts Options) Options {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("venue", schema.VenueHyperliquid)
	}
	if opts.Info == nil {
		opts.Info = hl.NewInfo(context.Background(), opts.Settings.RESTURL, true, nil, nil)
	}
	return opts
}

// Adapter implements venues.Adapter for Hyperliquid.
type Adapter struct {
	opts    Options
	info    InfoClient
	limiter *ratelimit.Window
	policy  retry.Policy
	state   *venues.ConnState
	log     *logrus.Entry

	credMu  sync.Mutex
	address string
}

var _ venues.Adapter = (*Adapter)(nil)

// New constructs a disconnected Hyperliquid adapter.
func New(opts Options) *Adapter {
	opts = withDefaults(opts)
	limiter := ratelimit.NewWindow(ratelimit.Limit{
		MaxRequests: opts.Settings.RateLimit.MaxRequests,
		Window:      opts.Settings.RateLimit.Window,
	}, opts.Clock)
	policy := retry.Policy{
		MaxRetries: opts.Settings.Retry.MaxRetries,
		BaseDelay:  opts.Settings.Retry.BaseDelay,
		MaxDelay:   opts.Settings.Retry.MaxDelay,
	}
	return &Adapter{
		opts:    opts,
		info:    opts.Info,
		limiter: limiter,
		policy:  policy,
		state:   venues.NewConnState(),
		log:     opts.Log,
		credMu:  sync.Mutex{},
		address: "",
	}
}

// call runs one info query through the rate limiter and the retry policy.
// The limiter admission sits inside the loop so retried attempts pay it too,
// and errors classify before the retry decision.
func call[T any](ctx context.Context, a *Adapter, fn func(context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, a.policy, func(ctx context.Context) (T, error) {
		var zero T
		if err := a.limiter.Wait(ctx); err != nil {
			return zero, err
		}
		out, err := fn(ctx)
		if err != nil {
			return zero, a.wrap(err)
		}
		return out, nil
	})
}

// Info describes Hyperliquid capabilities: read-only perps plus spot.
func (a *Adapter) Info() schema.ExchangeInfo {
	return schema.ExchangeInfo{
		Venue:          schema.VenueHyperliquid,
		DisplayName:    "Hyperliquid",
		ReadOnly:       true,
		HasSpot:        true,
		HasFutures:     true,
		HasEarn:        false,
		HasTransfers:   false,
		HasFunding:     true,
		HasStreaming:   false,
		RequiresSecret: false,
	}
}

// Connect stores the wallet address and validates it with one user-state
// probe. The address is treated as a secret like any other credential.
func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) error {
	address := strings.TrimSpace(creds.Key)
	if address == "" {
		return errs.InvalidCredentials(string(schema.VenueHyperliquid), nil)
	}
	if !a.state.BeginConnect() {
		return errs.New(string(schema.VenueHyperliquid), errs.ClassClient,
			errs.WithMessage("adapter already connected"))
	}
	a.setAddress(address)

	probe := func(ctx context.Context) (*hl.UserState, error) {
		return a.info.UserState(ctx, address)
	}
	if _, err := call(ctx, a, probe); err != nil {
		a.setAddress("")
		a.state.Reset()
		return err
	}
	if !a.state.MarkConnected() {
		a.setAddress("")
		return errs.New(string(schema.VenueHyperliquid), errs.ClassClient,
			errs.WithMessage("adapter closed during connect"))
	}
	return nil
}

// Disconnect discards the address. Idempotent.
func (a *Adapter) Disconnect() {
	a.setAddress("")
	a.state.Reset()
}

func (a *Adapter) IsConnected() bool { return a.state.Connected() }

// TestConnection probes the public meta endpoint.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := call(ctx, a, func(ctx context.Context) (*hl.MetaAndAssetCtxs, error) {
		return a.info.MetaAndAssetCtxs(ctx)
	})
	return err == nil
}

// SpotBalances returns non-zero spot balances for the wallet.
func (a *Adapter) SpotBalances(ctx context.Context) ([]schema.Balance, error) {
	state, err := call(ctx, a, func(ctx context.Context) (*hl.SpotUserState, error) {
		return a.info.SpotUserState(ctx, a.walletAddress())
	})
	if err != nil {
		return nil, err
	}
	out := make([]schema.Balance, 0, len(state.Balances))
	for _, row := range state.Balances {
		total, err := decimal.NewFromString(row.Total)
		if err != nil {
			continue
		}
		hold, err := decimal.NewFromString(row.Hold)
		if err != nil {
			continue
		}
		bal := schema.NewBalance(row.Coin, total.Sub(hold), hold, schema.BalanceSpot)
		if bal.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// FuturesBalances reports the perp margin account as a single USDC balance.
func (a *Adapter) FuturesBalances(ctx context.Context) ([]schema.Balance, error) {
	state, err := call(ctx, a, func(ctx context.Context) (*hl.UserState, error) {
		return a.info.UserState(ctx, a.walletAddress())
	})
	if err != nil {
		return nil, err
	}
	account, err := decimal.NewFromString(state.MarginSummary.AccountValue)
	if err != nil {
		return nil, a.wrap(err)
	}
	used, err := decimal.NewFromString(state.MarginSummary.TotalMarginUsed)
	if err != nil {
		return nil, a.wrap(err)
	}
	bal := schema.NewBalance("USDC", account.Sub(used), used, schema.BalanceFutures)
	if bal.IsZero() {
		return []schema.Balance{}, nil
	}
	bal.ValueUSD = account
	return []schema.Balance{bal}, nil
}

// FuturesPositions returns open perp positions.
func (a *Adapter) FuturesPositions(ctx context.Context) ([]schema.Position, error) {
	state, err := call(ctx, a, func(ctx context.Context) (*hl.UserState, error) {
		return a.info.UserState(ctx, a.walletAddress())
	})
	if err != nil {
		return nil, err
	}
	out := make([]schema.Position, 0, len(state.AssetPositions))
	for _, row := range state.AssetPositions {
		signed, err := decimal.NewFromString(row.Position.Szi)
		if err != nil {
			continue
		}
		pos, ok := schema.NewPosition(row.Position.Coin, signed)
		if !ok {
			continue
		}
		if row.Position.EntryPx != nil {
			pos.EntryPrice, _ = decimal.NewFromString(*row.Position.EntryPx)
		}
		pos.UnrealizedPnl, _ = decimal.NewFromString(row.Position.UnrealizedPnl)
		pos.Leverage = decimal.NewFromInt(int64(row.Position.Leverage.Value))
		pos.MarginMode = schema.MarginCross
		if strings.EqualFold(row.Position.Leverage.Type, "isolated") {
			pos.MarginMode = schema.MarginIsolated
		}
		pos.Margin, _ = decimal.NewFromString(row.Position.MarginUsed)
		pos.Notional, _ = decimal.NewFromString(row.Position.PositionValue)
		pos.Notional = pos.Notional.Abs()
		out = append(out, pos)
	}
	return out, nil
}

// EarnPositions is not offered by Hyperliquid.
func (a *Adapter) EarnPositions(context.Context) ([]schema.EarnPosition, error) {
	return nil, errs.NotSupported(string(schema.VenueHyperliquid), "earn positions")
}

// TradeHistory returns the wallet's recent fills, newest first per venue
// ordering, filtered client-side by the query.
func (a *Adapter) TradeHistory(ctx context.Context, q venues.TradeQuery) ([]schema.Trade, error) {
	fills, err := call(ctx, a, func(ctx context.Context) ([]hl.Fill, error) {
		return a.info.UserFills(ctx, a.walletAddress())
	})
	if err != nil {
		return nil, err
	}
	out := make([]schema.Trade, 0, len(fills))
	for _, fill := range fills {
		if q.Symbol != "" && fill.Coin != q.Symbol {
			continue
		}
		ts := time.UnixMilli(fill.Time).UTC()
		if !q.Since.IsZero() && ts.Before(q.Since) {
			continue
		}
		price, err := decimal.NewFromString(fill.Price)
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(fill.Size)
		if err != nil {
			continue
		}
		fee, _ := decimal.NewFromString(fill.Fee)
		// Fill sides are "B" and "A".
		side := schema.TradeSell
		if strings.EqualFold(fill.Side, "B") {
			side = schema.TradeBuy
		}
		out = append(out, schema.Trade{
			ID:        fill.Hash,
			Symbol:    fill.Coin,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Fee:       fee.Abs(),
			FeeAsset:  "USDC",
			Timestamp: ts,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DepositHistory is not exposed through the read-only integration.
func (a *Adapter) DepositHistory(context.Context, venues.TransferQuery) ([]schema.Transfer, error) {
	return nil, errs.NotSupported(string(schema.VenueHyperliquid), "deposit history")
}

// WithdrawHistory is not exposed through the read-only integration.
func (a *Adapter) WithdrawHistory(context.Context, venues.TransferQuery) ([]schema.Transfer, error) {
	return nil, errs.NotSupported(string(schema.VenueHyperliquid), "withdraw history")
}

// FundingRates reads current funding from the asset contexts. With no
// symbols the whole universe is returned.
func (a *Adapter) FundingRates(ctx context.Context, symbols []string) ([]schema.FundingRate, error) {
	state, err := call(ctx, a, func(ctx context.Context) (*hl.MetaAndAssetCtxs, error) {
		return a.info.MetaAndAssetCtxs(ctx)
	})
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = true
	}
	out := make([]schema.FundingRate, 0, len(state.Universe))
	for i, asset := range state.Universe {
		if i >= len(state.Ctxs) {
			break
		}
		if len(wanted) > 0 && !wanted[asset.Name] {
			continue
		}
		rate, err := decimal.NewFromString(state.Ctxs[i].Funding)
		if err != nil {
			continue
		}
		mark, _ := decimal.NewFromString(state.Ctxs[i].MarkPx)
		out = append(out, schema.FundingRate{
			Symbol:    asset.Name,
			Rate:      rate,
			MarkPrice: mark,
			// Hyperliquid funding accrues hourly.
			NextFunding: a.opts.Clock().UTC().Truncate(time.Hour).Add(time.Hour),
			Interval:    time.Hour,
		})
	}
	return out, nil
}

// SubscribeBalanceUpdates is a no-op registration: the read-only
// integration carries no push channel.
func (a *Adapter) SubscribeBalanceUpdates(func(schema.BalanceEvent)) func() {
	return func() {}
}

// SubscribePositionUpdates is a no-op registration.
func (a *Adapter) SubscribePositionUpdates(func(schema.PositionEvent)) func() {
	return func() {}
}

func (a *Adapter) setAddress(address string) {
	a.credMu.Lock()
	a.address = address
	a.credMu.Unlock()
}

func (a *Adapter) walletAddress() string {
	a.credMu.Lock()
	defer a.credMu.Unlock()
	return a.address
}

// wrap folds SDK errors into the shared taxonomy. The SDK surfaces plain
// errors, so classification falls back on message inspection.
func (a *Adapter) wrap(err error) error {
	if err == nil {
		return nil
	}
	class := errs.ClassNetwork
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		class = errs.ClassTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		class = errs.ClassRateLimit
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "parse"):
		class = errs.ClassClient
	}
	return errs.New(string(schema.VenueHyperliquid), class, errs.WithCause(err))
}
