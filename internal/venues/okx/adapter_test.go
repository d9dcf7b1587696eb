package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/venues"
)

func testOptions(restURL string) Options {
	return Options{
		Settings: config.VenueSettings{
			RESTURL:     restURL,
			WSURL:       "",
			HTTPTimeout: 5 * time.Second,
			RateLimit:   config.RateLimitSettings{MaxRequests: 100, Window: time.Second},
			Retry:       config.RetrySettings{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
	}
}

func testCreds() schema.Credentials {
	return schema.Credentials{Key: "k", Secret: "s", Passphrase: "p"}
}

const okBalanceBody = `{"code":"0","msg":"","data":[{"details":[
	{"ccy":"BTC","availBal":"1.5","frozenBal":"0.5","eq":"2","eqUsd":"80000"},
	{"ccy":"USDT","availBal":"0","frozenBal":"0","eq":"0","eqUsd":"0"}
]}]}`

func TestSignDeterminism(t *testing.T) {
	ts := Timestamp(time.UnixMilli(1700000000000).UTC())
	first := Sign("secret", ts, http.MethodGet, "/api/v5/account/balance", "")
	second := Sign("secret", ts, http.MethodGet, "/api/v5/account/balance", "")
	require.Equal(t, first, second, "identical inputs must yield identical signatures")

	require.NotEqual(t, first, Sign("other", ts, http.MethodGet, "/api/v5/account/balance", ""))
	require.NotEqual(t, first, Sign("secret", Timestamp(time.UnixMilli(1700000000001).UTC()),
		http.MethodGet, "/api/v5/account/balance", ""), "timestamp must influence the signature")
	require.NotEqual(t, first, Sign("secret", ts, http.MethodPost, "/api/v5/account/balance", ""))
}

func TestConnectSendsSignedHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/account/balance", r.URL.Path)
		require.Equal(t, "k", r.Header.Get("OK-ACCESS-KEY"))
		require.Equal(t, "p", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		require.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		require.NotEmpty(t, r.Header.Get("OK-ACCESS-TIMESTAMP"))
		_, _ = w.Write([]byte(okBalanceBody))
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	require.NoError(t, a.Connect(context.Background(), testCreds()))
	require.True(t, a.IsConnected())
}

func TestConnectRequiresPassphrase(t *testing.T) {
	a := New(testOptions("http://unused"))
	err := a.Connect(context.Background(), schema.Credentials{Key: "k", Secret: "s"})
	require.Error(t, err)
	require.Equal(t, errs.ClassAuth, errs.ClassOf(err))
	require.False(t, a.IsConnected())
}

func TestEnvelopeErrorCarriesVenueMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"51008","msg":"Order placement failed due to insufficient balance","data":[]}`))
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	err := a.Connect(context.Background(), testCreds())
	require.Error(t, err)
	require.Contains(t, err.Error(), "insufficient balance",
		"the venue msg field must survive classification")
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
	require.False(t, a.IsConnected())
}

func TestEnvelopeAuthCodeMapsToInvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":"50113","msg":"Invalid Sign","data":[]}`))
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	err := a.Connect(context.Background(), testCreds())
	require.Error(t, err)
	require.Equal(t, errs.ClassAuth, errs.ClassOf(err))
	require.True(t, a.credentials().Empty(), "failed connect must not retain credentials")
}

func TestSpotBalancesFiltersZeroAndDerivesTotal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(okBalanceBody))
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	require.NoError(t, a.Connect(context.Background(), testCreds()))

	balances, err := a.SpotBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1, "zero-total USDT must be filtered out")
	require.Equal(t, "BTC", balances[0].Asset)
	require.True(t, balances[0].Total.Equal(decimal.RequireFromString("2")))
	require.True(t, balances[0].Total.Equal(balances[0].Free.Add(balances[0].Locked)))
	require.True(t, balances[0].ValueUSD.Equal(decimal.RequireFromString("80000")))
}

func TestFuturesPositionsDeriveSideAndSkipFlat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/account/positions":
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
				{"instId":"BTC-USDT-SWAP","instType":"SWAP","pos":"2","posSide":"net","avgPx":"40000","markPx":"41000","upl":"2000","lever":"10","mgnMode":"cross","margin":"8000","notionalUsd":"82000"},
				{"instId":"ETH-USDT-SWAP","instType":"SWAP","pos":"3","posSide":"short","avgPx":"2200","markPx":"2100","upl":"300","lever":"5","mgnMode":"isolated","margin":"1320","notionalUsd":"-6300"},
				{"instId":"XRP-USDT-SWAP","instType":"SWAP","pos":"0","posSide":"net","avgPx":"0","markPx":"0.5","upl":"0","lever":"20","mgnMode":"cross","margin":"0","notionalUsd":"0"}
			]}`))
		default:
			_, _ = w.Write([]byte(okBalanceBody))
		}
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	require.NoError(t, a.Connect(context.Background(), testCreds()))

	positions, err := a.FuturesPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2, "flat position must be excluded")

	require.Equal(t, schema.PositionLong, positions[0].Side)
	require.True(t, positions[0].Size.Equal(decimal.RequireFromString("2")))
	require.Equal(t, schema.MarginCross, positions[0].MarginMode)

	require.Equal(t, schema.PositionShort, positions[1].Side,
		"long/short mode carries the sign in posSide")
	require.True(t, positions[1].Size.Equal(decimal.RequireFromString("3")))
	require.Equal(t, schema.MarginIsolated, positions[1].MarginMode)
	require.True(t, positions[1].Notional.IsPositive(), "notional is reported absolute")
}

func TestTransferStatusStaysInClosedSet(t *testing.T) {
	known := map[schema.TransferStatus]bool{
		schema.TransferPending:   true,
		schema.TransferCompleted: true,
		schema.TransferFailed:    true,
		schema.TransferCancelled: true,
	}
	for _, state := range []string{"-3", "-2", "-1", "0", "1", "2", "99", ""} {
		require.True(t, known[depositState(state)], "deposit state %q", state)
		require.True(t, known[withdrawState(state)], "withdraw state %q", state)
	}
	require.Equal(t, schema.TransferCompleted, depositState("2"))
	require.Equal(t, schema.TransferCancelled, withdrawState("-2"))
	require.Equal(t, schema.TransferFailed, withdrawState("-1"))
	require.Equal(t, schema.TransferPending, depositState("99"),
		"unknown venue codes map to pending")
}

func TestWithdrawHistoryMapsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/asset/withdrawal-history":
			require.Equal(t, "BTC", r.URL.Query().Get("ccy"))
			_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[
				{"wdId":"w1","ccy":"BTC","amt":"0.4","fee":"0.0005","chain":"BTC-Bitcoin","state":"2","to":"bc1qaddr","txId":"deadbeef","ts":"1700000000000"}
			]}`))
		default:
			_, _ = w.Write([]byte(okBalanceBody))
		}
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	require.NoError(t, a.Connect(context.Background(), testCreds()))

	transfers, err := a.WithdrawHistory(context.Background(), venues.TransferQuery{Asset: "BTC"})
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, schema.TransferWithdrawal, transfers[0].Direction)
	require.Equal(t, schema.TransferCompleted, transfers[0].Status)
	require.Equal(t, "deadbeef", transfers[0].TxID)
	require.True(t, transfers[0].Amount.Equal(decimal.RequireFromString("0.4")))
}

func TestFundingRatesRequireSymbols(t *testing.T) {
	a := New(testOptions("http://unused"))
	_, err := a.FundingRates(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(okBalanceBody))
	}))
	defer srv.Close()

	a := New(testOptions(srv.URL))
	require.NoError(t, a.Connect(context.Background(), testCreds()))
	require.True(t, a.IsConnected())

	a.Disconnect()
	require.False(t, a.IsConnected())
	a.Disconnect()
	require.False(t, a.IsConnected())
	require.True(t, a.credentials().Empty())
}

func TestDisconnectDuringConnectLeavesDisconnected(t *testing.T) {
	var a *Adapter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// A close lands while the probe response is still in flight.
		a.Disconnect()
		_, _ = w.Write([]byte(okBalanceBody))
	}))
	defer srv.Close()

	a = New(testOptions(srv.URL))
	err := a.Connect(context.Background(), schema.Credentials{Key: "k", Secret: "s", Passphrase: "p"})
	require.Error(t, err)
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
	require.False(t, a.IsConnected())
	require.True(t, a.credentials().Empty(), "lost race must not retain credentials")
}
