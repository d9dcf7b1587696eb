package evm

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/chains"
)

const (
	holder = "0x1111111111111111111111111111111111111111"
	usdc   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	wbtc   = "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"
)

type fakeRPC struct {
	native   *big.Int
	balances map[string]*big.Int // lowercase contract -> raw balance
	err      error
}

func (f *fakeRPC) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.native, nil
}

func (f *fakeRPC) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.balances[strings.ToLower(msg.To.Hex())]
	if !ok {
		raw = big.NewInt(0)
	}
	out := make([]byte, 32)
	raw.FillBytes(out)
	return out, nil
}

func tokentxBody() string {
	return `{"status":"1","message":"OK","result":[
		{"hash":"0xh1","from":"0x9999999999999999999999999999999999999999","to":"` + holder + `","value":"250000000","timeStamp":"1714550400","contractAddress":"` + usdc + `","tokenSymbol":"USDC","tokenName":"USD Coin","tokenDecimal":"6"},
		{"hash":"0xh2","from":"` + holder + `","to":"0x9999999999999999999999999999999999999999","value":"100000000","timeStamp":"1714464000","contractAddress":"` + usdc + `","tokenSymbol":"USDC","tokenName":"USD Coin","tokenDecimal":"6"},
		{"hash":"0xh3","from":"0x9999999999999999999999999999999999999999","to":"` + holder + `","value":"5000000","timeStamp":"1714377600","contractAddress":"` + wbtc + `","tokenSymbol":"WBTC","tokenName":"Wrapped BTC","tokenDecimal":"8"}
	]}`
}

func newTestProvider(t *testing.T, rpc RPCClient, explorerURL string, commonTokens []config.TokenRef) *Provider {
	t.Helper()
	settings := config.EVMChainSettings{
		Enabled:      true,
		ExplorerURL:  explorerURL,
		CommonTokens: commonTokens,
	}
	p, err := New(Options{
		Chain:    "ethereum",
		Settings: settings,
		RPC:      rpc,
		Explorer: NewExplorer("ethereum", settings, nil),
	})
	require.NoError(t, err)
	return p
}

func TestNativeBalanceConvertsWei(t *testing.T) {
	rpc := &fakeRPC{native: big.NewInt(1_500_000_000_000_000_000)}
	p := newTestProvider(t, rpc, "", nil)

	bal, err := p.NativeBalance(context.Background(), holder)
	require.NoError(t, err)
	require.Equal(t, "ETH", bal.Symbol)
	require.True(t, bal.Native())
	require.True(t, bal.Amount.Equal(decimal.RequireFromString("1.5")))

	_, err = p.NativeBalance(context.Background(), "not-an-address")
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
}

func TestTokenBalancesDiscoverViaExplorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "tokentx", r.URL.Query().Get("action"))
		require.Equal(t, holder, r.URL.Query().Get("address"))
		_, _ = w.Write([]byte(tokentxBody()))
	}))
	defer srv.Close()

	rpc := &fakeRPC{balances: map[string]*big.Int{
		strings.ToLower(usdc): big.NewInt(150_000_000), // 150 USDC
		strings.ToLower(wbtc): big.NewInt(0),
	}}
	p := newTestProvider(t, rpc, srv.URL, nil)

	balances, err := p.TokenBalances(context.Background(), holder)
	require.NoError(t, err)
	require.Len(t, balances, 1, "zero balances and duplicate contracts are dropped")
	require.Equal(t, "USDC", balances[0].Symbol)
	require.Equal(t, usdc, balances[0].TokenAddress)
	require.True(t, balances[0].Amount.Equal(decimal.RequireFromString("150")))
}

func TestTokenBalancesFallBackToCommonTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rpc := &fakeRPC{balances: map[string]*big.Int{
		strings.ToLower(usdc): big.NewInt(42_000_000),
	}}
	p := newTestProvider(t, rpc, srv.URL, []config.TokenRef{
		{Address: usdc, Symbol: "USDC", Decimals: 6},
		{Address: wbtc, Symbol: "WBTC", Decimals: 8},
	})

	balances, err := p.TokenBalances(context.Background(), holder)
	require.NoError(t, err, "explorer failure must degrade, not propagate")
	require.Len(t, balances, 1)
	require.Equal(t, "USDC", balances[0].Symbol)
	require.True(t, balances[0].Amount.Equal(decimal.RequireFromString("42")))
}

func TestTokenBalancesEmptyExplorerResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, &fakeRPC{}, srv.URL, nil)
	balances, err := p.TokenBalances(context.Background(), holder)
	require.NoError(t, err)
	require.Empty(t, balances)
}

func TestTransactionHistoryMergesAndOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "txlist":
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
				{"hash":"0xn1","from":"0x9999999999999999999999999999999999999999","to":"` + holder + `","value":"2000000000000000000","timeStamp":"1714600000"}
			]}`))
		default:
			_, _ = w.Write([]byte(tokentxBody()))
		}
	}))
	defer srv.Close()

	p := newTestProvider(t, &fakeRPC{}, srv.URL, nil)
	records, err := p.TransactionHistory(context.Background(), holder, chains.HistoryQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "0xn1", records[0].Hash, "newest first")
	require.Equal(t, "ETH", records[0].Symbol)
	require.True(t, records[0].Incoming)
	require.True(t, records[0].Amount.Equal(decimal.RequireFromString("2")))
	require.Equal(t, "0xh1", records[1].Hash)
	require.False(t, records[2].Incoming, "outgoing token transfer")
}

func TestRPCFailureClassifies(t *testing.T) {
	p := newTestProvider(t, &fakeRPC{err: errors.New("connection refused")}, "", nil)
	_, err := p.NativeBalance(context.Background(), holder)
	require.Equal(t, errs.ClassNetwork, errs.ClassOf(err))
}
