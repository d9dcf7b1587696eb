package hyperliquid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	hl "github.com/sonirico/go-hyperliquid"
	"github.com/stretchr/testify/require"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/venues"
)

type fakeInfo struct {
	userState     *hl.UserState
	spotUserState *hl.SpotUserState
	fills         []hl.Fill
	meta          *hl.MetaAndAssetCtxs
	err           error

	lastAddress string
}

func (f *fakeInfo) UserState(_ context.Context, address string) (*hl.UserState, error) {
	f.lastAddress = address
	return f.userState, f.err
}

func (f *fakeInfo) SpotUserState(_ context.Context, address string) (*hl.SpotUserState, error) {
	f.lastAddress = address
	return f.spotUserState, f.err
}

func (f *fakeInfo) UserFills(_ context.Context, address string) ([]hl.Fill, error) {
	f.lastAddress = address
	return f.fills, f.err
}

func (f *fakeInfo) MetaAndAssetCtxs(context.Context) (*hl.MetaAndAssetCtxs, error) {
	return f.meta, f.err
}

func testAdapter(info *fakeInfo) *Adapter {
	return New(Options{
		Settings: config.VenueSettings{
			RateLimit: config.RateLimitSettings{MaxRequests: 100, Window: time.Second},
		},
		Info: info,
	})
}

func entry(px string) *string { return &px }

func connectedAdapter(t *testing.T, info *fakeInfo) *Adapter {
	t.Helper()
	if info.userState == nil {
		info.userState = &hl.UserState{}
	}
	a := testAdapter(info)
	require.NoError(t, a.Connect(context.Background(), schema.Credentials{Key: "0xabc"}))
	return a
}

func TestConnectRequiresAddressOnly(t *testing.T) {
	info := &fakeInfo{userState: &hl.UserState{}}
	a := testAdapter(info)

	err := a.Connect(context.Background(), schema.Credentials{})
	require.Error(t, err)
	require.Equal(t, errs.ClassAuth, errs.ClassOf(err))

	require.NoError(t, a.Connect(context.Background(), schema.Credentials{Key: "0xabc"}))
	require.True(t, a.IsConnected())
	require.Equal(t, "0xabc", info.lastAddress)
}

func TestConnectProbeFailureLeavesDisconnected(t *testing.T) {
	info := &fakeInfo{err: errors.New("dial tcp: connection refused")}
	a := testAdapter(info)

	err := a.Connect(context.Background(), schema.Credentials{Key: "0xabc"})
	require.Error(t, err)
	require.Equal(t, errs.ClassNetwork, errs.ClassOf(err))
	require.False(t, a.IsConnected())
	require.Empty(t, a.walletAddress(), "failed connect must not retain the address")
}

func TestFuturesPositionsDeriveSideFromSzi(t *testing.T) {
	info := &fakeInfo{
		userState: &hl.UserState{
			AssetPositions: []hl.AssetPosition{
				{Position: hl.Position{
					Coin: "ETH", Szi: "2.5", EntryPx: entry("2200"),
					PositionValue: "5500", UnrealizedPnl: "100",
					Leverage: hl.Leverage{Type: "cross", Value: 10}, MarginUsed: "550",
				}},
				{Position: hl.Position{
					Coin: "BTC", Szi: "-0.1", EntryPx: entry("60000"),
					PositionValue: "-6000", UnrealizedPnl: "-50",
					Leverage: hl.Leverage{Type: "isolated", Value: 5}, MarginUsed: "1200",
				}},
				{Position: hl.Position{
					Coin: "SOL", Szi: "0", PositionValue: "0", UnrealizedPnl: "0",
					Leverage: hl.Leverage{Type: "cross", Value: 1}, MarginUsed: "0",
				}},
			},
		},
	}
	a := connectedAdapter(t, info)

	positions, err := a.FuturesPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2, "flat position must be excluded")

	require.Equal(t, schema.PositionLong, positions[0].Side)
	require.True(t, positions[0].Size.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, schema.MarginCross, positions[0].MarginMode)

	require.Equal(t, schema.PositionShort, positions[1].Side)
	require.True(t, positions[1].Size.Equal(decimal.RequireFromString("0.1")))
	require.Equal(t, schema.MarginIsolated, positions[1].MarginMode)
	require.True(t, positions[1].Notional.IsPositive())
}

func TestFuturesBalancesSplitFreeAndUsedMargin(t *testing.T) {
	info := &fakeInfo{
		userState: &hl.UserState{
			MarginSummary: hl.MarginSummary{AccountValue: "10000", TotalMarginUsed: "2500"},
		},
	}
	a := connectedAdapter(t, info)

	balances, err := a.FuturesBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, "USDC", balances[0].Asset)
	require.True(t, balances[0].Free.Equal(decimal.RequireFromString("7500")))
	require.True(t, balances[0].Locked.Equal(decimal.RequireFromString("2500")))
	require.True(t, balances[0].Total.Equal(decimal.RequireFromString("10000")))
}

func TestTradeHistoryFiltersBySymbolAndSince(t *testing.T) {
	now := time.Now().UnixMilli()
	info := &fakeInfo{
		fills: []hl.Fill{
			{Coin: "ETH", Price: "2200", Size: "1", Side: "B", Fee: "1.1", Time: now, Hash: "h1"},
			{Coin: "BTC", Price: "60000", Size: "0.1", Side: "A", Fee: "3", Time: now, Hash: "h2"},
			{Coin: "ETH", Price: "2100", Size: "2", Side: "A", Fee: "2.1", Time: now - 3_600_000, Hash: "h3"},
		},
	}
	a := connectedAdapter(t, info)

	trades, err := a.TradeHistory(context.Background(), venues.TradeQuery{
		Symbol: "ETH",
		Since:  time.UnixMilli(now - 60_000),
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "h1", trades[0].ID)
	require.Equal(t, schema.TradeBuy, trades[0].Side)
	require.Equal(t, "USDC", trades[0].FeeAsset)
}

func TestFundingRatesCoverUniverse(t *testing.T) {
	info := &fakeInfo{
		meta: &hl.MetaAndAssetCtxs{
			Meta: hl.Meta{Universe: []hl.AssetInfo{{Name: "ETH"}, {Name: "BTC"}}},
			Ctxs: []hl.AssetCtx{
				{Funding: "0.0000125", MarkPx: "2200"},
				{Funding: "-0.00002", MarkPx: "60000"},
			},
		},
	}
	a := connectedAdapter(t, info)

	rates, err := a.FundingRates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	require.Equal(t, time.Hour, rates[0].Interval)

	rates, err = a.FundingRates(context.Background(), []string{"BTC"})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	require.Equal(t, "BTC", rates[0].Symbol)
	require.True(t, rates[0].Rate.IsNegative())
}

func TestReadOnlyCapabilities(t *testing.T) {
	a := testAdapter(&fakeInfo{})
	info := a.Info()
	require.True(t, info.ReadOnly)
	require.False(t, info.RequiresSecret)
	require.False(t, info.HasTransfers)

	_, err := a.DepositHistory(context.Background(), venues.TransferQuery{})
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
	_, err = a.EarnPositions(context.Background())
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
}

// flakyInfo fails the first n user-state calls before delegating.
type flakyInfo struct {
	fakeInfo
	failures int
	errMsg   string
	calls    int
}

func (f *flakyInfo) UserState(ctx context.Context, address string) (*hl.UserState, error) {
	f.calls++
	if f.calls <= f.failures {
		msg := f.errMsg
		if msg == "" {
			msg = "dial tcp: connection refused"
		}
		return nil, errors.New(msg)
	}
	return f.fakeInfo.UserState(ctx, address)
}

func retryingOptions(info InfoClient) Options {
	return Options{
		Settings: config.VenueSettings{
			RateLimit: config.RateLimitSettings{MaxRequests: 100, Window: time.Second},
			Retry:     config.RetrySettings{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
		Info: info,
	}
}

func TestPullQueriesRetryTransientFailures(t *testing.T) {
	info := &flakyInfo{fakeInfo: fakeInfo{userState: &hl.UserState{}}, failures: 2}
	a := New(retryingOptions(info))

	require.NoError(t, a.Connect(context.Background(), schema.Credentials{Key: "0xabc"}))
	require.Equal(t, 3, info.calls, "two transient failures then success")

	info.calls, info.failures = 0, 1
	positions, err := a.FuturesPositions(context.Background())
	require.NoError(t, err)
	require.Empty(t, positions)
	require.Equal(t, 2, info.calls, "one transient failure absorbed by the policy")
}

func TestNonRetryableErrorsSurfaceImmediately(t *testing.T) {
	info := &flakyInfo{failures: 5, errMsg: "invalid address"}
	a := New(retryingOptions(info))

	err := a.Connect(context.Background(), schema.Credentials{Key: "0xabc"})
	require.Error(t, err)
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
	require.Equal(t, 1, info.calls, "client errors must not retry")
}
