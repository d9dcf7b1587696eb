// Package evm implements the chain provider for EVM networks. Native and
// token balances come from the JSON-RPC node; token discovery walks the
// explorer's transfer index.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/chains"
	"github.com/openfolio/venuelink/internal/chains/tokens"
)

const (
	// balanceOf(address)
	balanceOfSelector = "\x70\xa0\x82\x31"

	balanceBatchSize = 5
	nativeDecimals   = 18

	rpcRatePerSec = 10
	rpcBurst      = 5
)

// RPCClient is the slice of the JSON-RPC surface the provider consumes.
// *ethclient.Client satisfies it; tests substitute a local double.
type RPCClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ RPCClient = (*ethclient.Client)(nil)

// Options configures an EVM provider instance.
type Options struct {
	Chain    string
	Settings config.EVMChainSettings
	RPC      RPCClient
	Explorer *Explorer
	Registry *tokens.Registry
	Log      *logrus.Entry
}

// Provider implements chains.Provider for one EVM network.
type Provider struct {
	chain    string
	settings config.EVMChainSettings
	rpc      RPCClient
	explorer *Explorer
	registry *tokens.Registry
	limiter  *rate.Limiter
	log      *logrus.Entry
}

var _ chains.Provider = (*Provider)(nil)

// New constructs a provider. When no RPC client is injected one is dialed
// from the configured endpoint.
func New(opts Options) (*Provider, error) {
	if opts.Log == nil {
		opts.Log = logrus.WithField("chain", opts.Chain)
	}
	if opts.RPC == nil {
		client, err := ethclient.Dial(opts.Settings.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial %s rpc: %w", opts.Chain, err)
		}
		opts.RPC = client
	}
	if opts.Explorer == nil {
		opts.Explorer = NewExplorer(opts.Chain, opts.Settings, nil)
	}
	return &Provider{
		chain:    opts.Chain,
		settings: opts.Settings,
		rpc:      opts.RPC,
		explorer: opts.Explorer,
		registry: opts.Registry,
		limiter:  rate.NewLimiter(rate.Limit(rpcRatePerSec), rpcBurst),
		log:      opts.Log,
	}, nil
}

func (p *Provider) Chain() string { return p.chain }

// NativeBalance returns the address's base-asset balance.
func (p *Provider) NativeBalance(ctx context.Context, address string) (chains.Balance, error) {
	if !common.IsHexAddress(address) {
		return chains.Balance{}, errs.New(p.chain, errs.ClassClient,
			errs.WithMessage("invalid address"))
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return chains.Balance{}, err
	}
	wei, err := p.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return chains.Balance{}, p.wrapRPC(err)
	}
	return chains.Balance{
		Chain:    p.chain,
		Symbol:   nativeSymbol(p.chain),
		Name:     nativeSymbol(p.chain),
		Amount:   decimal.NewFromBigInt(wei, -nativeDecimals),
		Decimals: nativeDecimals,
	}, nil
}

// TokenBalances discovers token contracts the address has touched and
// queries each balance. Explorer outages degrade to the configured
// common-token list instead of failing.
func (p *Provider) TokenBalances(ctx context.Context, address string) ([]chains.Balance, error) {
	if !common.IsHexAddress(address) {
		return nil, errs.New(p.chain, errs.ClassClient, errs.WithMessage("invalid address"))
	}

	candidates, err := p.discover(ctx, address)
	if err != nil {
		p.log.WithError(err).Warn("token discovery failed, using common tokens")
		candidates = p.commonCandidates()
	}
	if len(candidates) == 0 {
		return []chains.Balance{}, nil
	}

	results := make([]chains.Balance, len(candidates))
	errsByIdx := make([]error, len(candidates))
	wp := pool.New().WithMaxGoroutines(balanceBatchSize)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		wp.Go(func() {
			bal, err := p.tokenBalance(ctx, address, candidate)
			if err != nil {
				errsByIdx[i] = err
				return
			}
			results[i] = bal
		})
	}
	wp.Wait()

	out := make([]chains.Balance, 0, len(results))
	for i, bal := range results {
		if errsByIdx[i] != nil {
			p.log.WithError(errsByIdx[i]).WithField("token", candidates[i].Address).
				Debug("token balance fetch failed")
			continue
		}
		if bal.Amount.IsZero() {
			continue
		}
		out = append(out, bal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// TransactionHistory returns recent native and token transfers from the
// explorer index, newest first.
func (p *Provider) TransactionHistory(ctx context.Context, address string, q chains.HistoryQuery) ([]chains.TxRecord, error) {
	if !common.IsHexAddress(address) {
		return nil, errs.New(p.chain, errs.ClassClient, errs.WithMessage("invalid address"))
	}
	native, err := p.explorer.NativeTransfers(ctx, address)
	if err != nil {
		return nil, err
	}
	token, err := p.explorer.TokenTransfers(ctx, address)
	if err != nil {
		return nil, err
	}

	out := make([]chains.TxRecord, 0, len(native)+len(token))
	for _, row := range append(native, token...) {
		record, ok := p.toRecord(address, row)
		if !ok {
			continue
		}
		if !q.Since.IsZero() && record.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type candidate struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int32
}

// discover enumerates distinct token contracts from the transfer index.
func (p *Provider) discover(ctx context.Context, address string) ([]candidate, error) {
	rows, err := p.explorer.TokenTransfers(ctx, address)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]candidate, 0, len(rows))
	for _, row := range rows {
		key := strings.ToLower(row.ContractAddress)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		decimals, _ := parseInt32(row.TokenDecimal)
		out = append(out, candidate{
			Address:  row.ContractAddress,
			Symbol:   row.TokenSymbol,
			Name:     row.TokenName,
			Decimals: decimals,
		})
	}
	return out, nil
}

func (p *Provider) commonCandidates() []candidate {
	out := make([]candidate, 0, len(p.settings.CommonTokens))
	for _, ref := range p.settings.CommonTokens {
		out = append(out, candidate{
			Address:  ref.Address,
			Symbol:   ref.Symbol,
			Decimals: ref.Decimals,
		})
	}
	return out
}

// tokenBalance issues one eth_call of balanceOf(address).
func (p *Provider) tokenBalance(ctx context.Context, address string, c candidate) (chains.Balance, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return chains.Balance{}, err
	}
	contract := common.HexToAddress(c.Address)
	data := make([]byte, 4+32)
	copy(data, balanceOfSelector)
	copy(data[4+12:], common.HexToAddress(address).Bytes())

	raw, err := p.rpc.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return chains.Balance{}, p.wrapRPC(err)
	}
	amount := new(big.Int).SetBytes(raw)

	symbol, name, decimals := c.Symbol, c.Name, c.Decimals
	if symbol == "" && p.registry != nil {
		if token, ok, err := p.registry.Lookup(ctx, c.Address); err == nil && ok {
			symbol, name, decimals = token.Symbol, token.Name, token.Decimals
		}
	}
	return chains.Balance{
		Chain:        p.chain,
		Symbol:       symbol,
		Name:         name,
		TokenAddress: c.Address,
		Amount:       decimal.NewFromBigInt(amount, -decimals),
		Decimals:     decimals,
	}, nil
}

func (p *Provider) toRecord(address string, row transferRow) (chains.TxRecord, bool) {
	value, ok := new(big.Int).SetString(row.Value, 10)
	if !ok {
		return chains.TxRecord{}, false
	}
	decimals := int32(nativeDecimals)
	symbol := nativeSymbol(p.chain)
	if row.ContractAddress != "" {
		symbol = row.TokenSymbol
		decimals, _ = parseInt32(row.TokenDecimal)
	}
	unix, err := parseInt64(row.TimeStamp)
	if err != nil {
		return chains.TxRecord{}, false
	}
	return chains.TxRecord{
		Chain:     p.chain,
		Hash:      row.Hash,
		Symbol:    symbol,
		Amount:    decimal.NewFromBigInt(value, -decimals),
		From:      row.From,
		To:        row.To,
		Incoming:  strings.EqualFold(row.To, address),
		Timestamp: time.Unix(unix, 0).UTC(),
	}, true
}

// wrapRPC folds node errors into the shared taxonomy.
func (p *Provider) wrapRPC(err error) error {
	class := errs.ClassNetwork
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		class = errs.ClassTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate"):
		class = errs.ClassRateLimit
	}
	return errs.New(p.chain, class, errs.WithCause(err))
}

var nativeSymbols = map[string]string{
	"ethereum": "ETH",
	"polygon":  "POL",
	"arbitrum": "ETH",
	"base":     "ETH",
	"optimism": "ETH",
}

func nativeSymbol(chain string) string {
	if symbol, ok := nativeSymbols[chain]; ok {
		return symbol
	}
	return strings.ToUpper(chain)
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
