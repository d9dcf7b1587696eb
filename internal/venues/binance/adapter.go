// Package binance implements the Binance venue adapter: HMAC-signed REST
// plus the listen-key user-data stream.
package binance

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
	"github.com/openfolio/venuelink/internal/stream"
	"github.com/openfolio/venuelink/internal/transport"
	"github.com/openfolio/venuelink/internal/venues"
)

const (
	defaultFuturesURL = "https://fapi.binance.com"
	apiKeyHeader      = "X-MBX-APIKEY"
)

// Options configures a Binance adapter instance.
type Options struct {
	Settings   config.VenueSettings
	FuturesURL string
	Clock      func() time.Time
	Log        *logrus.Entry
}

func withDefaults(opts Options) Options {
	if opts.FuturesURL == "" {
		opts.FuturesURL = defaultFuturesURL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("venue", schema.VenueBinance)
	}
	return opts
}

// Adapter implements venues.Adapter for Binance.
type Adapter struct {
	opts  Options
	rest  *transport.Client
	state *venues.ConnState
	log   *logrus.Entry

	credMu sync.Mutex
	creds  schema.Credentials

	balances  *stream.Bus[schema.BalanceEvent]
	positions *stream.Bus[schema.PositionEvent]

	wsMu sync.Mutex
	ws   *userStream
}

var _ venues.Adapter = (*Adapter)(nil)

// New constructs a disconnected Binance adapter.
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
		opts:      opts,
		rest:      transport.NewClient(string(schema.VenueBinance), httpClient, limiter, policy),
		state:     venues.NewConnState(),
		log:       opts.Log,
		credMu:    sync.Mutex{},
		creds:     schema.Credentials{},
		balances:  stream.NewBus[schema.BalanceEvent](opts.Log, 0),
		positions: stream.NewBus[schema.PositionEvent](opts.Log, 0),
		wsMu:      sync.Mutex{},
		ws:        nil,
	}
}

// Info describes Binance capabilities.
func (a *Adapter) Info() schema.ExchangeInfo {
	return schema.ExchangeInfo{
		Venue:          schema.VenueBinance,
		DisplayName:    "Binance",
		ReadOnly:       false,
		HasSpot:        true,
		HasFutures:     true,
		HasEarn:        true,
		HasTransfers:   true,
		HasFunding:     true,
		HasStreaming:   true,
		RequiresSecret: true,
	}
}

// Connect validates credentials with one signed account probe, then opens
// the user-data stream best-effort.
func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) error {
	if creds.Key == "" || creds.Secret == "" {
		return errs.InvalidCredentials(string(schema.VenueBinance), nil)
	}
	if !a.state.BeginConnect() {
		return errs.New(string(schema.VenueBinance), errs.ClassClient,
			errs.WithMessage("adapter already connected"))
	}
	a.setCreds(creds)

	if _, err := a.signedGET(ctx, a.opts.Settings.RESTURL, "/api/v3/account", nil); err != nil {
		a.setCreds(schema.Credentials{})
		a.state.Reset()
		if errs.ClassOf(err) == errs.ClassAuth {
			return errs.InvalidCredentials(string(schema.VenueBinance), err)
		}
		return err
	}
	if !a.state.MarkConnected() {
		a.setCreds(schema.Credentials{})
		return errs.New(string(schema.VenueBinance), errs.ClassClient,
			errs.WithMessage("adapter closed during connect"))
	}

	// Push channel is best-effort: a failed open leaves the adapter in
	// pull-only mode.
	if err := a.openUserStream(); err != nil {
		a.log.WithError(err).Warn("user-data stream unavailable, staying pull-only")
	}
	return nil
}

// Disconnect closes the user stream, discards credentials, and returns the
// adapter to the disconnected state. Idempotent.
func (a *Adapter) Disconnect() {
	a.wsMu.Lock()
	if a.ws != nil {
		a.ws.stop()
		a.ws = nil
	}
	a.wsMu.Unlock()
	a.setCreds(schema.Credentials{})
	a.state.Reset()
}

// IsConnected reflects only the REST-session state.
func (a *Adapter) IsConnected() bool { return a.state.Connected() }

// TestConnection probes the public ping endpoint.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.rest.Do(ctx, transport.Get(a.opts.Settings.RESTURL+"/api/v3/ping"))
	return err == nil
}

// SpotBalances returns non-zero spot balances.
func (a *Adapter) SpotBalances(ctx context.Context) ([]schema.Balance, error) {
	body, err := a.signedGET(ctx, a.opts.Settings.RESTURL, "/api/v3/account", nil)
	if err != nil {
		return nil, err
	}
	var account accountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	out := make([]schema.Balance, 0, len(account.Balances))
	for _, row := range account.Balances {
		free, err := dec(row.Free)
		if err != nil {
			return nil, fmt.Errorf("parse free for %s: %w", row.Asset, err)
		}
		locked, err := dec(row.Locked)
		if err != nil {
			return nil, fmt.Errorf("parse locked for %s: %w", row.Asset, err)
		}
		bal := schema.NewBalance(row.Asset, free, locked, schema.BalanceSpot)
		if bal.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// FuturesBalances returns non-zero USD-M futures wallet balances.
func (a *Adapter) FuturesBalances(ctx context.Context) ([]schema.Balance, error) {
	body, err := a.signedGET(ctx, a.opts.FuturesURL, "/fapi/v2/balance", nil)
	if err != nil {
		return nil, err
	}
	var rows []futuresBalance
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode futures balances: %w", err)
	}
	out := make([]schema.Balance, 0, len(rows))
	for _, row := range rows {
		total, err := dec(row.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", row.Asset, err)
		}
		available, err := dec(row.AvailableBalance)
		if err != nil {
			return nil, fmt.Errorf("parse available for %s: %w", row.Asset, err)
		}
		locked := total.Sub(available)
		bal := schema.NewBalance(row.Asset, available, locked, schema.BalanceFutures)
		if bal.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// FuturesPositions returns open USD-M positions with side derived from the
// signed position amount.
func (a *Adapter) FuturesPositions(ctx context.Context) ([]schema.Position, error) {
	body, err := a.signedGET(ctx, a.opts.FuturesURL, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}
	var rows []positionRisk
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]schema.Position, 0, len(rows))
	for _, row := range rows {
		signed, err := dec(row.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("parse position amt for %s: %w", row.Symbol, err)
		}
		pos, ok := schema.NewPosition(row.Symbol, signed)
		if !ok {
			continue
		}
		if pos.EntryPrice, err = dec(row.EntryPrice); err != nil {
			return nil, fmt.Errorf("parse entry price for %s: %w", row.Symbol, err)
		}
		if pos.MarkPrice, err = dec(row.MarkPrice); err != nil {
			return nil, fmt.Errorf("parse mark price for %s: %w", row.Symbol, err)
		}
		if pos.UnrealizedPnl, err = dec(row.UnRealizedProfit); err != nil {
			return nil, fmt.Errorf("parse pnl for %s: %w", row.Symbol, err)
		}
		pos.Leverage, _ = decimal.NewFromString(row.Leverage)
		pos.MarginMode = schema.MarginCross
		if strings.EqualFold(row.MarginType, "isolated") {
			pos.MarginMode = schema.MarginIsolated
			pos.Margin, _ = decimal.NewFromString(row.IsolatedMargin)
		}
		pos.Notional, _ = decimal.NewFromString(row.Notional)
		pos.Notional = pos.Notional.Abs()
		out = append(out, pos)
	}
	return out, nil
}

// EarnPositions returns flexible simple-earn holdings.
func (a *Adapter) EarnPositions(ctx context.Context) ([]schema.EarnPosition, error) {
	body, err := a.signedGET(ctx, a.opts.Settings.RESTURL, "/sapi/v1/simple-earn/flexible/position", nil)
	if err != nil {
		return nil, err
	}
	var resp earnPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode earn positions: %w", err)
	}
	out := make([]schema.EarnPosition, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		amount, err := dec(row.TotalAmount)
		if err != nil {
			return nil, fmt.Errorf("parse earn amount for %s: %w", row.Asset, err)
		}
		if amount.IsZero() {
			continue
		}
		apr, _ := decimal.NewFromString(row.LatestAPR)
		out = append(out, schema.EarnPosition{
			Asset:     row.Asset,
			Product:   row.ProductID,
			Amount:    amount,
			APR:       apr,
			Flexible:  true,
			Timestamp: a.opts.Clock().UTC(),
		})
	}
	return out, nil
}

// TradeHistory returns fills for the given symbol. Binance requires a
// symbol for this endpoint.
func (a *Adapter) TradeHistory(ctx context.Context, q venues.TradeQuery) ([]schema.Trade, error) {
	if q.Symbol == "" {
		return nil, errs.New(string(schema.VenueBinance), errs.ClassClient,
			errs.WithMessage("trade history requires a symbol"))
	}
	params := url.Values{}
	params.Set("symbol", q.Symbol)
	if !q.Since.IsZero() {
		params.Set("startTime", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	body, err := a.signedGET(ctx, a.opts.Settings.RESTURL, "/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}
	var rows []myTrade
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}
	out := make([]schema.Trade, 0, len(rows))
	for _, row := range rows {
		price, err := dec(row.Price)
		if err != nil {
			return nil, fmt.Errorf("parse trade price: %w", err)
		}
		qty, err := dec(row.Qty)
		if err != nil {
			return nil, fmt.Errorf("parse trade qty: %w", err)
		}
		fee, _ := decimal.NewFromString(row.Commission)
		side := schema.TradeSell
		if row.IsBuyer {
			side = schema.TradeBuy
		}
		out = append(out, schema.Trade{
			ID:        strconv.FormatInt(row.ID, 10),
			Symbol:    row.Symbol,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Fee:       fee,
			FeeAsset:  row.CommissionAsset,
			Timestamp: time.UnixMilli(row.Time).UTC(),
		})
	}
	return out, nil
}

// DepositHistory returns past deposits with statuses folded into the closed
// set.
func (a *Adapter) DepositHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	params := transferParams(q, "coin")
	body, err := a.signedGET(ctx, a.opts.Settings.RESTURL, "/sapi/v1/capital/deposit/hisrec", params)
	if err != nil {
		return nil, err
	}
	var rows []depositRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode deposits: %w", err)
	}
	out := make([]schema.Transfer, 0, len(rows))
	for _, row := range rows {
		amount, err := dec(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse deposit amount: %w", err)
		}
		out = append(out, schema.Transfer{
			ID:        row.ID,
			Asset:     row.Coin,
			Amount:    amount,
			Direction: schema.TransferDeposit,
			Status:    depositStatus(row.Status),
			Address:   row.Address,
			TxID:      row.TxID,
			Network:   row.Network,
			Timestamp: time.UnixMilli(row.InsertTime).UTC(),
		})
	}
	return out, nil
}

// WithdrawHistory returns past withdrawals with statuses folded into the
// closed set.
func (a *Adapter) WithdrawHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	params := transferParams(q, "coin")
	body, err := a.signedGET(ctx, a.opts.Settings.RESTURL, "/sapi/v1/capital/withdraw/history", params)
	if err != nil {
		return nil, err
	}
	var rows []withdrawRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode withdrawals: %w", err)
	}
	out := make([]schema.Transfer, 0, len(rows))
	for _, row := range rows {
		amount, err := dec(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal amount: %w", err)
		}
		fee, _ := decimal.NewFromString(row.TransactionFee)
		ts, _ := time.Parse("2006-01-02 15:04:05", row.ApplyTime)
		out = append(out, schema.Transfer{
			ID:        row.ID,
			Asset:     row.Coin,
			Amount:    amount,
			Fee:       fee,
			Direction: schema.TransferWithdrawal,
			Status:    withdrawStatus(row.Status),
			Address:   row.Address,
			TxID:      row.TxID,
			Network:   row.Network,
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}

// FundingRates returns the current premium-index funding rates, optionally
// filtered to the given symbols.
func (a *Adapter) FundingRates(ctx context.Context, symbols []string) ([]schema.FundingRate, error) {
	body, err := a.rest.Do(ctx, transport.Get(a.opts.FuturesURL+"/fapi/v1/premiumIndex"))
	if err != nil {
		return nil, err
	}
	var rows []premiumIndex
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode premium index: %w", err)
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(s)] = struct{}{}
	}
	out := make([]schema.FundingRate, 0, len(rows))
	for _, row := range rows {
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToUpper(row.Symbol)]; !ok {
				continue
			}
		}
		rate, err := dec(row.LastFundingRate)
		if err != nil {
			continue
		}
		mark, _ := decimal.NewFromString(row.MarkPrice)
		out = append(out, schema.FundingRate{
			Symbol:      row.Symbol,
			Rate:        rate,
			MarkPrice:   mark,
			NextFunding: time.UnixMilli(row.NextFundingTime).UTC(),
			Interval:    8 * time.Hour,
		})
	}
	return out, nil
}

// SubscribeBalanceUpdates registers a push-channel balance callback.
func (a *Adapter) SubscribeBalanceUpdates(fn func(schema.BalanceEvent)) func() {
	return a.balances.Subscribe(fn)
}

// SubscribePositionUpdates registers a push-channel position callback. The
// spot user-data stream carries no position deltas, so Binance delivers
// events only for accounts with futures streams enabled.
func (a *Adapter) SubscribePositionUpdates(fn func(schema.PositionEvent)) func() {
	return a.positions.Subscribe(fn)
}

func (a *Adapter) setCreds(creds schema.Credentials) {
	a.credMu.Lock()
	a.creds = creds
	a.credMu.Unlock()
}

func (a *Adapter) credentials() schema.Credentials {
	a.credMu.Lock()
	defer a.credMu.Unlock()
	return a.creds
}

// signedGET executes a signed GET request. The signature and timestamp are
// regenerated on every retry attempt.
func (a *Adapter) signedGET(ctx context.Context, base, path string, params url.Values) ([]byte, error) {
	return a.rest.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		creds := a.credentials()
		if creds.Key == "" || creds.Secret == "" {
			return nil, fmt.Errorf("missing credentials")
		}
		attempt := url.Values{}
		for k, vs := range params {
			attempt[k] = append([]string(nil), vs...)
		}
		query := SignedQuery(attempt, creds.Secret, a.opts.Clock())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path+"?"+query, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set(apiKeyHeader, creds.Key)
		return req, nil
	})
}

func transferParams(q venues.TransferQuery, assetField string) url.Values {
	params := url.Values{}
	if q.Asset != "" {
		params.Set(assetField, q.Asset)
	}
	if !q.Since.IsZero() {
		params.Set("startTime", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func dec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
