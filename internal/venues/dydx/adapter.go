// Package dydx implements the read-only dYdX v4 adapter backed by the
// public indexer REST API. The chain address alone grants read access.
package dydx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/ratelimit"
	"github.com/openfolio/venuelink/internal/retry"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/transport"
	"github.com/openfolio/venuelink/internal/venues"
)

// Each address gets subaccounts; the integration reads the default one.
const defaultSubaccount = 0

// Options configures a dYdX adapter instance.
type Options struct {
	Settings config.VenueSettings
	Clock    func() time.Time
	Log      *logrus.Entry
}

func withDefaults(opts Options) Options {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("venue", schema.VenueDydx)
	}
	return opts
}

// Adapter implements venues.Adapter for dYdX v4.
type Adapter struct {
	opts  Options
	rest  *transport.Client
	state *venues.ConnState
	log   *logrus.Entry

	credMu  sync.Mutex
	address string
}

var _ venues.Adapter = (*Adapter)(nil)

// New constructs a disconnected dYdX adapter.
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
	httpClient := &http.Client{Timeout: opts.Settings.HTTPTimeout}
	return &Adapter{
		opts:    opts,
		rest:    transport.NewClient(string(schema.VenueDydx), httpClient, limiter, policy),
		state:   venues.NewConnState(),
		log:     opts.Log,
		credMu:  sync.Mutex{},
		address: "",
	}
}

// Info describes dYdX capabilities: read-only perps.
func (a *Adapter) Info() schema.ExchangeInfo {
	return schema.ExchangeInfo{
		Venue:          schema.VenueDydx,
		DisplayName:    "dYdX",
		ReadOnly:       true,
		HasSpot:        false,
		HasFutures:     true,
		HasEarn:        false,
		HasTransfers:   true,
		HasFunding:     true,
		HasStreaming:   false,
		RequiresSecret: false,
	}
}

// Connect stores the chain address and validates it with one subaccount
// probe. The address is treated as a secret like any other credential.
func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) error {
	address := strings.TrimSpace(creds.Key)
	if address == "" {
		return errs.InvalidCredentials(string(schema.VenueDydx), nil)
	}
	if !a.state.BeginConnect() {
		return errs.New(string(schema.VenueDydx), errs.ClassClient,
			errs.WithMessage("adapter already connected"))
	}
	a.setAddress(address)

	if _, err := a.fetchSubaccount(ctx); err != nil {
		a.setAddress("")
		a.state.Reset()
		return err
	}
	if !a.state.MarkConnected() {
		a.setAddress("")
		return errs.New(string(schema.VenueDydx), errs.ClassClient,
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

// TestConnection probes the public height endpoint.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.rest.Do(ctx, transport.Get(a.opts.Settings.RESTURL+"/v4/height"))
	return err == nil
}

// SpotBalances is not offered: dYdX v4 holds only perp collateral.
func (a *Adapter) SpotBalances(context.Context) ([]schema.Balance, error) {
	return nil, errs.NotSupported(string(schema.VenueDydx), "spot balances")
}

// FuturesBalances reports subaccount collateral as a single USDC balance.
func (a *Adapter) FuturesBalances(ctx context.Context) ([]schema.Balance, error) {
	sub, err := a.fetchSubaccount(ctx)
	if err != nil {
		return nil, err
	}
	equity, err := dec(sub.Equity)
	if err != nil {
		return nil, fmt.Errorf("parse equity: %w", err)
	}
	free, err := dec(sub.FreeCollateral)
	if err != nil {
		return nil, fmt.Errorf("parse free collateral: %w", err)
	}
	bal := schema.NewBalance("USDC", free, equity.Sub(free), schema.BalanceFutures)
	if bal.IsZero() {
		return []schema.Balance{}, nil
	}
	bal.ValueUSD = equity
	return []schema.Balance{bal}, nil
}

// FuturesPositions returns open perp positions for the subaccount.
func (a *Adapter) FuturesPositions(ctx context.Context) ([]schema.Position, error) {
	params := a.subaccountParams()
	params.Set("status", "OPEN")
	body, err := a.get(ctx, "/v4/perpetualPositions", params)
	if err != nil {
		return nil, err
	}
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]schema.Position, 0, len(resp.Positions))
	for _, row := range resp.Positions {
		size, err := dec(row.Size)
		if err != nil {
			return nil, fmt.Errorf("parse size for %s: %w", row.Market, err)
		}
		// The indexer reports side explicitly and size signed by flow.
		signed := size
		if strings.EqualFold(row.Side, "SHORT") && signed.IsPositive() {
			signed = signed.Neg()
		}
		pos, ok := schema.NewPosition(row.Market, signed)
		if !ok {
			continue
		}
		pos.EntryPrice, _ = decimal.NewFromString(row.EntryPrice)
		pos.UnrealizedPnl, _ = decimal.NewFromString(row.UnrealizedPnl)
		pos.MarginMode = schema.MarginCross
		pos.Notional = pos.Size.Mul(pos.EntryPrice)
		out = append(out, pos)
	}
	return out, nil
}

// EarnPositions is not offered by dYdX.
func (a *Adapter) EarnPositions(context.Context) ([]schema.EarnPosition, error) {
	return nil, errs.NotSupported(string(schema.VenueDydx), "earn positions")
}

// TradeHistory returns fills for the subaccount.
func (a *Adapter) TradeHistory(ctx context.Context, q venues.TradeQuery) ([]schema.Trade, error) {
	params := a.subaccountParams()
	if q.Symbol != "" {
		params.Set("market", q.Symbol)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	body, err := a.get(ctx, "/v4/fills", params)
	if err != nil {
		return nil, err
	}
	var resp fillsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	out := make([]schema.Trade, 0, len(resp.Fills))
	for _, row := range resp.Fills {
		price, err := dec(row.Price)
		if err != nil {
			return nil, fmt.Errorf("parse fill price: %w", err)
		}
		qty, err := dec(row.Size)
		if err != nil {
			return nil, fmt.Errorf("parse fill size: %w", err)
		}
		fee, _ := decimal.NewFromString(row.Fee)
		side := schema.TradeSell
		if strings.EqualFold(row.Side, "BUY") {
			side = schema.TradeBuy
		}
		ts, _ := time.Parse(time.RFC3339, row.CreatedAt)
		if !q.Since.IsZero() && ts.Before(q.Since) {
			continue
		}
		out = append(out, schema.Trade{
			ID:        row.ID,
			Symbol:    row.Market,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Fee:       fee.Abs(),
			FeeAsset:  "USDC",
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}

// DepositHistory returns inbound transfers for the subaccount.
func (a *Adapter) DepositHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	return a.transfers(ctx, q, schema.TransferDeposit)
}

// WithdrawHistory returns outbound transfers for the subaccount.
func (a *Adapter) WithdrawHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	return a.transfers(ctx, q, schema.TransferWithdrawal)
}

func (a *Adapter) transfers(ctx context.Context, q venues.TransferQuery, want schema.TransferDirection) ([]schema.Transfer, error) {
	params := a.subaccountParams()
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	body, err := a.get(ctx, "/v4/transfers", params)
	if err != nil {
		return nil, err
	}
	var resp transfersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode transfers: %w", err)
	}
	out := make([]schema.Transfer, 0, len(resp.Transfers))
	for _, row := range resp.Transfers {
		direction, ok := transferDirection(row.Type)
		if !ok || direction != want {
			continue
		}
		if q.Asset != "" && !strings.EqualFold(q.Asset, row.Symbol) {
			continue
		}
		amount, err := dec(row.Size)
		if err != nil {
			return nil, fmt.Errorf("parse transfer size: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, row.CreatedAt)
		if !q.Since.IsZero() && ts.Before(q.Since) {
			continue
		}
		out = append(out, schema.Transfer{
			ID:        row.ID,
			Asset:     row.Symbol,
			Amount:    amount,
			Direction: direction,
			Status:    transferStatus(row.Status),
			TxID:      row.TransactionHash,
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}

// FundingRates reads next-hour funding from the public markets endpoint.
// With no symbols every listed market is returned.
func (a *Adapter) FundingRates(ctx context.Context, symbols []string) ([]schema.FundingRate, error) {
	params := url.Values{}
	if len(symbols) == 1 {
		params.Set("ticker", symbols[0])
	}
	body, err := a.get(ctx, "/v4/perpetualMarkets", params)
	if err != nil {
		return nil, err
	}
	var resp marketsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	wanted := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol] = true
	}
	out := make([]schema.FundingRate, 0, len(resp.Markets))
	for ticker, market := range resp.Markets {
		if len(wanted) > 0 && !wanted[ticker] {
			continue
		}
		rate, err := dec(market.NextFundingRate)
		if err != nil {
			continue
		}
		mark, _ := decimal.NewFromString(market.OraclePrice)
		out = append(out, schema.FundingRate{
			Symbol:      ticker,
			Rate:        rate,
			MarkPrice:   mark,
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

func (a *Adapter) subaccountParams() url.Values {
	params := url.Values{}
	params.Set("address", a.walletAddress())
	params.Set("subaccountNumber", strconv.Itoa(defaultSubaccount))
	return params
}

func (a *Adapter) fetchSubaccount(ctx context.Context) (subaccount, error) {
	path := fmt.Sprintf("/v4/addresses/%s/subaccountNumber/%d",
		url.PathEscape(a.walletAddress()), defaultSubaccount)
	body, err := a.get(ctx, path, nil)
	if err != nil {
		return subaccount{}, err
	}
	var resp subaccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return subaccount{}, fmt.Errorf("decode subaccount: %w", err)
	}
	return resp.Subaccount, nil
}

func (a *Adapter) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := a.opts.Settings.RESTURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return a.rest.DoChecked(ctx, transport.Get(endpoint), checkBody)
}

// checkBody surfaces indexer validation errors delivered in 200 bodies.
func checkBody(body []byte) error {
	var apiErr indexerError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if len(apiErr.Errors) == 0 {
		return nil
	}
	return errs.New(string(schema.VenueDydx), errs.ClassClient,
		errs.WithMessage(apiErr.Errors[0].Msg),
		errs.WithRawMessage(apiErr.Errors[0].Msg))
}

func dec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
