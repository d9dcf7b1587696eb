package upbit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
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

// Options configures an Upbit adapter instance.
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
		opts.Log = logrus.WithField("venue", schema.VenueUpbit)
	}
	return opts
}

// Adapter implements venues.Adapter for Upbit spot.
type Adapter struct {
	opts  Options
	rest  *transport.Client
	state *venues.ConnState
	log   *logrus.Entry

	credMu sync.Mutex
	creds  schema.Credentials
}

var _ venues.Adapter = (*Adapter)(nil)

// New constructs a disconnected Upbit adapter.
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
		opts:   opts,
		rest:   transport.NewClient(string(schema.VenueUpbit), httpClient, limiter, policy),
		state:  venues.NewConnState(),
		log:    opts.Log,
		credMu: sync.Mutex{},
		creds:  schema.Credentials{},
	}
}

// Info describes Upbit capabilities: spot and transfers only.
func (a *Adapter) Info() schema.ExchangeInfo {
	return schema.ExchangeInfo{
		Venue:          schema.VenueUpbit,
		DisplayName:    "Upbit",
		ReadOnly:       false,
		HasSpot:        true,
		HasFutures:     false,
		HasEarn:        false,
		HasTransfers:   true,
		HasFunding:     false,
		HasStreaming:   false,
		RequiresSecret: true,
	}
}

// Connect validates credentials with one accounts probe.
func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) error {
	if creds.Key == "" || creds.Secret == "" {
		return errs.InvalidCredentials(string(schema.VenueUpbit), nil)
	}
	if !a.state.BeginConnect() {
		return errs.New(string(schema.VenueUpbit), errs.ClassClient,
			errs.WithMessage("adapter already connected"))
	}
	a.setCreds(creds)

	if _, err := a.authedGET(ctx, "/v1/accounts", nil); err != nil {
		a.setCreds(schema.Credentials{})
		a.state.Reset()
		if errs.ClassOf(err) == errs.ClassAuth {
			return errs.InvalidCredentials(string(schema.VenueUpbit), err)
		}
		return err
	}
	if !a.state.MarkConnected() {
		a.setCreds(schema.Credentials{})
		return errs.New(string(schema.VenueUpbit), errs.ClassClient,
			errs.WithMessage("adapter closed during connect"))
	}
	return nil
}

// Disconnect discards credentials. Idempotent.
func (a *Adapter) Disconnect() {
	a.setCreds(schema.Credentials{})
	a.state.Reset()
}

func (a *Adapter) IsConnected() bool { return a.state.Connected() }

// TestConnection probes the public market listing.
func (a *Adapter) TestConnection(ctx context.Context) bool {
	_, err := a.rest.Do(ctx, transport.Get(a.opts.Settings.RESTURL+"/v1/market/all"))
	return err == nil
}

// SpotBalances returns non-zero account balances.
func (a *Adapter) SpotBalances(ctx context.Context) ([]schema.Balance, error) {
	body, err := a.authedGET(ctx, "/v1/accounts", nil)
	if err != nil {
		return nil, err
	}
	var rows []account
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make([]schema.Balance, 0, len(rows))
	for _, row := range rows {
		free, err := dec(row.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse balance for %s: %w", row.Currency, err)
		}
		locked, err := dec(row.Locked)
		if err != nil {
			return nil, fmt.Errorf("parse locked for %s: %w", row.Currency, err)
		}
		bal := schema.NewBalance(row.Currency, free, locked, schema.BalanceSpot)
		if bal.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

// FuturesBalances is not offered by Upbit.
func (a *Adapter) FuturesBalances(context.Context) ([]schema.Balance, error) {
	return nil, errs.NotSupported(string(schema.VenueUpbit), "futures balances")
}

// FuturesPositions is not offered by Upbit.
func (a *Adapter) FuturesPositions(context.Context) ([]schema.Position, error) {
	return nil, errs.NotSupported(string(schema.VenueUpbit), "futures positions")
}

// EarnPositions is not offered by Upbit.
func (a *Adapter) EarnPositions(context.Context) ([]schema.EarnPosition, error) {
	return nil, errs.NotSupported(string(schema.VenueUpbit), "earn positions")
}

// TradeHistory returns filled closed orders for one market.
func (a *Adapter) TradeHistory(ctx context.Context, q venues.TradeQuery) ([]schema.Trade, error) {
	if q.Symbol == "" {
		return nil, errs.New(string(schema.VenueUpbit), errs.ClassClient,
			errs.WithMessage("trade history requires a market symbol"))
	}
	params := url.Values{}
	params.Set("market", q.Symbol)
	params.Set("state", "done")
	if !q.Since.IsZero() {
		params.Set("start_time", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	body, err := a.authedGET(ctx, "/v1/orders/closed", params)
	if err != nil {
		return nil, err
	}
	var rows []closedOrder
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode closed orders: %w", err)
	}
	out := make([]schema.Trade, 0, len(rows))
	for _, row := range rows {
		qty, err := dec(row.ExecutedVolume)
		if err != nil || qty.IsZero() {
			continue
		}
		price, err := dec(row.Price)
		if err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}
		fee, _ := decimal.NewFromString(row.PaidFee)
		// Upbit sides are bid/ask.
		side := schema.TradeSell
		if row.Side == "bid" {
			side = schema.TradeBuy
		}
		ts, _ := time.Parse(time.RFC3339, row.CreatedAt)
		out = append(out, schema.Trade{
			ID:        row.UUID,
			Symbol:    row.Market,
			Side:      side,
			Price:     price,
			Quantity:  qty,
			Fee:       fee.Abs(),
			FeeAsset:  quoteCurrency(row.Market),
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}

// DepositHistory returns past deposits.
func (a *Adapter) DepositHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	body, err := a.authedGET(ctx, "/v1/deposits", transferParams(q))
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
		fee, _ := decimal.NewFromString(row.Fee)
		ts, _ := time.Parse(time.RFC3339, row.CreatedAt)
		if !q.Since.IsZero() && ts.Before(q.Since) {
			continue
		}
		out = append(out, schema.Transfer{
			ID:        row.UUID,
			Asset:     row.Currency,
			Amount:    amount,
			Fee:       fee.Abs(),
			Direction: schema.TransferDeposit,
			Status:    depositState(row.State),
			TxID:      row.TxID,
			Network:   row.NetType,
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}

// WithdrawHistory returns past withdrawals.
func (a *Adapter) WithdrawHistory(ctx context.Context, q venues.TransferQuery) ([]schema.Transfer, error) {
	body, err := a.authedGET(ctx, "/v1/withdraws", transferParams(q))
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
		fee, _ := decimal.NewFromString(row.Fee)
		ts, _ := time.Parse(time.RFC3339, row.CreatedAt)
		if !q.Since.IsZero() && ts.Before(q.Since) {
			continue
		}
		out = append(out, schema.Transfer{
			ID:        row.UUID,
			Asset:     row.Currency,
			Amount:    amount,
			Fee:       fee.Abs(),
			Direction: schema.TransferWithdrawal,
			Status:    withdrawState(row.State),
			TxID:      row.TxID,
			Network:   row.NetType,
			Timestamp: ts.UTC(),
		})
	}
	return out, nil
}

// FundingRates is not offered by Upbit.
func (a *Adapter) FundingRates(context.Context, []string) ([]schema.FundingRate, error) {
	return nil, errs.NotSupported(string(schema.VenueUpbit), "funding rates")
}

// SubscribeBalanceUpdates is a no-op registration: Upbit has no account
// push channel, so the callback never fires.
func (a *Adapter) SubscribeBalanceUpdates(func(schema.BalanceEvent)) func() {
	return func() {}
}

// SubscribePositionUpdates is a no-op registration.
func (a *Adapter) SubscribePositionUpdates(func(schema.PositionEvent)) func() {
	return func() {}
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

// authedGET executes a bearer-token GET. A fresh token with a new nonce is
// minted on every retry attempt.
func (a *Adapter) authedGET(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return a.rest.DoChecked(ctx, func(ctx context.Context) (*http.Request, error) {
		creds := a.credentials()
		if creds.Key == "" || creds.Secret == "" {
			return nil, fmt.Errorf("missing credentials")
		}
		rawQuery := params.Encode()
		endpoint := a.opts.Settings.RESTURL + path
		if rawQuery != "" {
			endpoint += "?" + rawQuery
		}
		token, err := Token(creds.Key, creds.Secret, rawQuery)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}, a.checkBody)
}

// checkBody surfaces named errors Upbit occasionally returns with 200
// bodies; the venue message is carried onto the classified error.
func (a *Adapter) checkBody(body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		// Arrays and other non-object bodies are not error envelopes.
		return nil
	}
	if apiErr.Error.Name == "" && apiErr.Error.Message == "" {
		return nil
	}
	return errs.New(string(schema.VenueUpbit), classifyName(apiErr.Error.Name),
		errs.WithMessage(apiErr.Error.Message),
		errs.WithRawCode(apiErr.Error.Name),
		errs.WithRawMessage(apiErr.Error.Message))
}

func classifyName(name string) errs.Class {
	switch name {
	case "invalid_access_key", "jwt_verification", "expired_access_key", "nonce_used", "no_authorization_ip":
		return errs.ClassAuth
	case "too_many_requests":
		return errs.ClassRateLimit
	default:
		return errs.ClassClient
	}
}

// transferParams maps the query onto the venue's list parameters. The
// endpoints take no time filter, so Since is applied client-side after
// decoding.
func transferParams(q venues.TransferQuery) url.Values {
	params := url.Values{}
	if q.Asset != "" {
		params.Set("currency", q.Asset)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

// quoteCurrency extracts the fee currency from a KRW-BTC style market code.
func quoteCurrency(market string) string {
	for i := range market {
		if market[i] == '-' {
			return market[:i]
		}
	}
	return market
}

func dec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
