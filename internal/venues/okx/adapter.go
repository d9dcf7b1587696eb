// Package okx implements the OKX venue adapter: passphrase-based
// HMAC-header REST plus the private account/positions websocket.
package okx

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

// Options configures an OKX adapter instance.
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
		opts.Log = logrus.WithField("venue", schema.VenueOKX)
	}
	return opts
}

// Adapter implements venues.Adapter for OKX.
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
	ws   *privateWS
}

var _ venues.Adapter = (*Adapter)(nil)

// New constructs a disconnected OKX adapter.
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
		rest:      transport.NewClient(string(schema.VenueOKX), httpClient, limiter, policy),
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

// Info describes OKX capabilities.
func (a *Adapter) Info() schema.ExchangeInfo {
	return schema.ExchangeInfo{
		Venue:          schema.VenueOKX,
		DisplayName:    "OKX",
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

// Connect validates credentials with one signed balance probe, then opens
// the private websocket best-effort.
func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) error {
	if creds.Key == "" || creds.Secret == "" || creds.Passphrase == "" {
		return errs.InvalidCredentials(string(schema.VenueOKX), nil)
	}
	if !a.state.BeginConnect() {
		return errs.New(string(schema.VenueOKX), errs.ClassClient,
			errs.WithMessage("adapter already connected"))
	}
	a.setCreds(creds)

	if _, err := a.signedGET(ctx, "/api/v5/account/balance", nil); err != nil {
		a.setCreds(schema.Credentials{})
		a.state.Reset()
		if errs.ClassOf(err) == errs.ClassAuth {
			return errs.InvalidCredentials(string(schema.VenueOKX), err)
		}
		return err
	}
	if !a.state.MarkConnected() {
		a.setCreds(schema.Credentials{})
		return errs.New(string(schema.VenueOKX), errs.ClassClient,
			errs.WithMessage("adapter closed during connect"))
	}

	if err := a.openPrivateWS(); err != nil {
		a.log.WithError(err).Warn("private websocket unavailable, staying pull-only")
	}
	return nil
}

// Disconnect closes the private websocket, discards credentials, and
// returns to the disconnected state. Idempotent.
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

// TestConnection probes the public system time endpoint.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.rest.Do(ctx, transport.Get(a.opts.Settings.RESTURL+"/api/v5/public/time"))
	return err == nil
}

// SpotBalances returns non-zero trading-account balances.
func (a *Adapter) SpotBalances(ctx context.Context) ([]schema.Balance, error) {
	body, err := a.signedGET(ctx, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, err
	}
	var resp balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	out := make([]schema.Balance, 0)
	for _, account := range resp.Data {
		for _, row := range account.Details {
			free, err := dec(row.AvailBal)
			if err != nil {
				return nil, fmt.Errorf("parse avail for %s: %w", row.Ccy, err)
			}
			locked, err := dec(row.FrozenBal)
			if err != nil {
				return nil, fmt.Errorf("parse frozen for %s: %w", row.Ccy, err)
			}
			bal := schema.NewBalance(row.Ccy, free, locked, schema.BalanceSpot)
			if bal.IsZero() {
				continue
			}
			if usd, err := dec(row.EqUsd); err == nil {
				bal.ValueUSD = usd
			}
			out = append(out, bal)
		}
	}
	return out, nil
}

// FuturesBalances reports the same unified trading account tagged as
// futures; OKX does not split wallets by product.
func (a *Adapter) FuturesBalances(ctx context.Context) ([]schema.Balance, error) {
	balances, err := a.SpotBalances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Balance, 0, len(balances))
	for _, bal := range balances {
		bal.Type = schema.BalanceFutures
		out = append(out, bal)
	}
	return out, nil
}

// FuturesPositions returns open swap/futures positions.
func (a *Adapter) FuturesPositions(ctx context.Context) ([]schema.Position, error) {
	body, err := a.signedGET(ctx, "/api/v5/account/positions", nil)
	if err != nil {
		return nil, err
	}
	var resp positionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]schema.Position, 0, len(resp.Data))
	for _, row := range resp.Data {
		pos, ok, err := mapPosition(row)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func mapPosition(row positionRow) (schema.Position, bool, error) {
	signed, err := dec(row.Pos)
	if err != nil {
		return schema.Position{}, false, fmt.Errorf("parse pos for %s: %w", row.InstID, err)
	}
	// In long/short mode the sign lives in posSide rather than pos.
	if strings.EqualFold(row.PosSide, "short") && signed.IsPositive() {
		signed = signed.Neg()
	}
	pos, ok := schema.NewPosition(row.InstID, signed)
	if !ok {
		return schema.Position{}, false, nil
	}
	pos.EntryPrice, _ = decimal.NewFromString(row.AvgPx)
	pos.MarkPrice, _ = decimal.NewFromString(row.MarkPx)
	pos.UnrealizedPnl, _ = decimal.NewFromString(row.Upl)
	pos.Leverage, _ = decimal.NewFromString(row.Lever)
	pos.MarginMode = schema.MarginCross
	if strings.EqualFold(row.MgnMode, "isolated") {
		pos.MarginMode = schema.MarginIsolated
	}
	pos.Margin, _ = decimal.NewFromString(row.Margin)
	pos.Notional, _ = decimal.NewFromString(row.NotionalUsd)
	pos.Notional = pos.Notional.Abs()
	return pos, true, nil
}

// EarnPositions returns simple-earn savings balances.
func (a *Adapter) EarnPositions(ctx context.Context) ([]schema.EarnPosition, error) {
	body, err := a.signedGET(ctx, "/api/v5/finance/savings/balance", nil)
	if err != nil {
		return nil, err
	}
	var resp savingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode savings: %w", err)
	}
	out := make([]schema.EarnPosition, 0, len(resp.Data))
	for _, row := range resp.Data {
		amount, err := dec(row.Amt)
		if err != nil {
			return nil, fmt.Errorf("parse savings amt for %s: %w", row.Ccy, err)
		}
		if amount.IsZero() {
			continue
		}
		apr, _ := decimal.NewFromString(row.Rate)
		out = append(out, schema.EarnPosition{
			Asset:     row.Ccy,
			Product:   "savings",
			Amount:    amount,
			APR:       apr,
			Flexible:  true,
			Timestamp: a.opts.Clock().UTC(),
		})
	}
	return out, nil
}

// TradeHistory returns recent fills, optionally narrowed to one instrument.
func (a *Adapter) TradeHistory(ctx context.Context, q venues.TradeQuery) ([]schema.Trade, error) {
	params := url.Values{}
	if q.Symbol != "" {
		params.Set("instId", q.Symbol)
	}
	if !q.Since.IsZero() {
		params.Set("begin", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	body, err := a.signedGET(ctx, "/api/v5/trade/fills", params)
	if err != nil {
		return nil, err
	}
	var resp fillsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	out := make([]schema.Trade, 0, len(resp.Data))
	for _, row := range resp.Data {
		price, err := dec(row.FillPx)
		if err != nil {
			return nil, fmt.Errorf("parse fill price: %w", err)
		}
		qty, err := dec(row.FillSz)
		if err != nil {
			return nil, fmt.Errorf("parse fill size: %w", err)
		}
		fee, _ := decimal.NewFromString(row.Fee)
		side := schema.TradeSell
		if strings.EqualFold(row.Side, "buy") {
			side = schema.TradeBuy
		}
		ms, _ := strconv.ParseInt(row.TS, 10, 64)
		out = append(out, schema.Trade{
			ID:        row.TradeID,
			Symbol:    row.InstID,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Fee:       fee.Abs(),
			FeeAsset:  row.FeeCcy,
			Timestamp: time.UnixMilli(ms).UTC(),
		})
	}
	return out, nil
}

// DepositHistory returns past deposits.
func (a *Adapter) DepositHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	params := transferParams(q)
	body, err := a.signedGET(ctx, "/api/v5/asset/deposit-history", params)
	if err != nil {
		return nil, err
	}
	var resp depositResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode deposits: %w", err)
	}
	out := make([]schema.Transfer, 0, len(resp.Data))
	for _, row := range resp.Data {
		amount, err := dec(row.Amt)
		if err != nil {
			return nil, fmt.Errorf("parse deposit amt: %w", err)
		}
		ms, _ := strconv.ParseInt(row.TS, 10, 64)
		out = append(out, schema.Transfer{
			ID:        row.DepID,
			Asset:     row.Ccy,
			Amount:    amount,
			Direction: schema.TransferDeposit,
			Status:    depositState(row.State),
			Address:   row.To,
			TxID:      row.TxID,
			Network:   row.Chain,
			Timestamp: time.UnixMilli(ms).UTC(),
		})
	}
	return out, nil
}

// WithdrawHistory returns past withdrawals.
func (a *Adapter) WithdrawHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	params := transferParams(q)
	body, err := a.signedGET(ctx, "/api/v5/asset/withdrawal-history", params)
	if err != nil {
		return nil, err
	}
	var resp withdrawResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode withdrawals: %w", err)
	}
	out := make([]schema.Transfer, 0, len(resp.Data))
	for _, row := range resp.Data {
		amount, err := dec(row.Amt)
		if err != nil {
			return nil, fmt.Errorf("parse withdrawal amt: %w", err)
		}
		fee, _ := decimal.NewFromString(row.Fee)
		ms, _ := strconv.ParseInt(row.TS, 10, 64)
		out = append(out, schema.Transfer{
			ID:        row.WdID,
			Asset:     row.Ccy,
			Amount:    amount,
			Fee:       fee.Abs(),
			Direction: schema.TransferWithdrawal,
			Status:    withdrawState(row.State),
			Address:   row.To,
			TxID:      row.TxID,
			Network:   row.Chain,
			Timestamp: time.UnixMilli(ms).UTC(),
		})
	}
	return out, nil
}

// FundingRates queries the public funding-rate endpoint per instrument.
func (a *Adapter) FundingRates(ctx context.Context, symbols []string) ([]schema.FundingRate, error) {
	if len(symbols) == 0 {
		return nil, errs.New(string(schema.VenueOKX), errs.ClassClient,
			errs.WithMessage("funding rates require instrument ids"))
	}
	out := make([]schema.FundingRate, 0, len(symbols))
	for _, symbol := range symbols {
		params := url.Values{}
		params.Set("instId", symbol)
		endpoint := a.opts.Settings.RESTURL + "/api/v5/public/funding-rate?" + params.Encode()
		body, err := a.rest.DoChecked(ctx, transport.Get(endpoint), a.checkEnvelope)
		if err != nil {
			return nil, err
		}
		var resp fundingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode funding rate: %w", err)
		}
		for _, row := range resp.Data {
			rate, err := dec(row.FundingRate)
			if err != nil {
				continue
			}
			ms, _ := strconv.ParseInt(row.NextFundingTime, 10, 64)
			out = append(out, schema.FundingRate{
				Symbol:      row.InstID,
				Rate:        rate,
				NextFunding: time.UnixMilli(ms).UTC(),
				Interval:    8 * time.Hour,
			})
		}
	}
	return out, nil
}

// SubscribeBalanceUpdates registers a push-channel balance callback.
func (a *Adapter) SubscribeBalanceUpdates(fn func(schema.BalanceEvent)) func() {
	return a.balances.Subscribe(fn)
}

// SubscribePositionUpdates registers a push-channel position callback.
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

// signedGET executes a signed GET request; signature material is
// regenerated on every retry attempt. The envelope code is checked inside
// the retry loop so retryable venue codes still retry.
func (a *Adapter) signedGET(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return a.rest.DoChecked(ctx, func(ctx context.Context) (*http.Request, error) {
		creds := a.credentials()
		if creds.Key == "" || creds.Secret == "" {
			return nil, fmt.Errorf("missing credentials")
		}
		requestPath := path
		if len(params) > 0 {
			requestPath += "?" + params.Encode()
		}
		ts := Timestamp(a.opts.Clock())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			a.opts.Settings.RESTURL+requestPath, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("OK-ACCESS-KEY", creds.Key)
		req.Header.Set("OK-ACCESS-SIGN", Sign(creds.Secret, ts, http.MethodGet, requestPath, ""))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", creds.Passphrase)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, a.checkEnvelope)
}

// checkEnvelope surfaces venue failures reported inside HTTP 200 bodies,
// carrying the venue msg field on the classified error.
func (a *Adapter) checkEnvelope(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errs.New(string(schema.VenueOKX), errs.ClassUnknown,
			errs.WithMessage("decode envelope"), errs.WithCause(err))
	}
	if env.Code == "" || env.Code == "0" {
		return nil
	}
	return errs.New(string(schema.VenueOKX), classifyCode(env.Code),
		errs.WithMessage(env.Msg),
		errs.WithRawCode(env.Code),
		errs.WithRawMessage(env.Msg))
}

// classifyCode folds OKX venue codes into the error taxonomy.
func classifyCode(code string) errs.Class {
	switch code {
	case "50011":
		return errs.ClassRateLimit
	case "50001", "50013", "50026":
		return errs.ClassServer
	case "50100", "50101", "50102", "50103", "50104", "50105",
		"50111", "50112", "50113", "50114", "50115":
		return errs.ClassAuth
	default:
		return errs.ClassClient
	}
}

func transferParams(q venues.TransferQuery) url.Values {
	params := url.Values{}
	if q.Asset != "" {
		params.Set("ccy", q.Asset)
	}
	if !q.Since.IsZero() {
		params.Set("after", strconv.FormatInt(q.Since.UnixMilli(), 10))
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
