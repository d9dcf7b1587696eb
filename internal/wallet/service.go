// Package wallet aggregates one address's holdings across every enabled
// chain provider and values them in USD.
package wallet

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/openfolio/venuelink/internal/chains"
	"github.com/openfolio/venuelink/internal/prices"
)

// Multi-wallet runs are batched to keep downstream RPC pressure bounded.
const walletBatchSize = 3

// ChainHoldings is everything one chain returned for an address. Failed
// chains are reported with Failed=true and a zero native balance so a
// partial summary is still usable.
type ChainHoldings struct {
	Chain    string
	Native   chains.Balance
	Tokens   []chains.Balance
	Failed   bool
	ValueUSD decimal.Decimal
}

// Summary is the valued aggregate for one address.
type Summary struct {
	Address       string
	Chains        []ChainHoldings
	TotalValueUSD decimal.Decimal
	GeneratedAt   time.Time
}

// Service fans wallet queries out across chain providers.
type Service struct {
	providers []chains.Provider
	prices    prices.Service
	clock     func() time.Time
	log       *logrus.Entry
}

// New constructs a wallet service over the given providers.
func New(providers []chains.Provider, priceSvc prices.Service, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.WithField("component", "wallet")
	}
	return &Service{
		providers: providers,
		prices:    priceSvc,
		clock:     time.Now,
		log:       log,
	}
}

// WalletSummary fetches and values one address across all chains in
// parallel. A failing chain contributes a zero placeholder instead of
// failing the summary.
func (s *Service) WalletSummary(ctx context.Context, address string) (*Summary, error) {
	holdings := make([]ChainHoldings, len(s.providers))
	wp := pool.New().WithMaxGoroutines(len(s.providers) + 1)
	for i, provider := range s.providers {
		i, provider := i, provider
		wp.Go(func() {
			holdings[i] = s.fetchChain(ctx, provider, address)
		})
	}
	wp.Wait()

	summary := &Summary{
		Address:       address,
		Chains:        holdings,
		TotalValueUSD: decimal.Zero,
		GeneratedAt:   s.clock().UTC(),
	}
	if err := s.value(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// WalletSummaries processes many addresses in bounded batches.
func (s *Service) WalletSummaries(ctx context.Context, addresses []string) ([]*Summary, error) {
	out := make([]*Summary, len(addresses))
	errsByIdx := make([]error, len(addresses))
	wp := pool.New().WithMaxGoroutines(walletBatchSize)
	for i, address := range addresses {
		i, address := i, address
		wp.Go(func() {
			summary, err := s.WalletSummary(ctx, address)
			if err != nil {
				errsByIdx[i] = err
				return
			}
			out[i] = summary
		})
	}
	wp.Wait()
	for _, err := range errsByIdx {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) fetchChain(ctx context.Context, provider chains.Provider, address string) ChainHoldings {
	holdings := ChainHoldings{
		Chain:    provider.Chain(),
		Native:   chains.Balance{Chain: provider.Chain(), Amount: decimal.Zero},
		Tokens:   nil,
		Failed:   false,
		ValueUSD: decimal.Zero,
	}
	native, err := provider.NativeBalance(ctx, address)
	if err != nil {
		s.log.WithError(err).WithField("chain", provider.Chain()).
			Warn("native balance fetch failed")
		holdings.Failed = true
		return holdings
	}
	holdings.Native = native

	tokens, err := provider.TokenBalances(ctx, address)
	if err != nil {
		// Native balance already succeeded; keep it and degrade tokens.
		s.log.WithError(err).WithField("chain", provider.Chain()).
			Warn("token balance fetch failed")
		return holdings
	}
	holdings.Tokens = tokens
	return holdings
}

// value prices every symbol in the summary and fills per-chain and total
// USD values. A price-service failure zeroes valuations rather than
// failing the summary.
func (s *Service) value(ctx context.Context, summary *Summary) error {
	if s.prices == nil {
		return nil
	}
	symbols := make([]string, 0, 8)
	seen := make(map[string]bool, 8)
	for _, chain := range summary.Chains {
		for _, bal := range append([]chains.Balance{chain.Native}, chain.Tokens...) {
			key := strings.ToUpper(bal.Symbol)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			symbols = append(symbols, bal.Symbol)
		}
	}
	sort.Strings(symbols)

	quotes, err := s.prices.GetPrices(ctx, symbols)
	if err != nil {
		s.log.WithError(err).Warn("price fetch failed, summary left unvalued")
		return nil
	}
	lookup := make(map[string]prices.Quote, len(quotes))
	for symbol, quote := range quotes {
		lookup[strings.ToUpper(symbol)] = quote
	}

	total := decimal.Zero
	for i := range summary.Chains {
		chain := &summary.Chains[i]
		value := valueOf(chain.Native, lookup)
		chain.Native.ValueUSD = value
		chainTotal := value
		for j := range chain.Tokens {
			value := valueOf(chain.Tokens[j], lookup)
			chain.Tokens[j].ValueUSD = value
			chainTotal = chainTotal.Add(value)
		}
		chain.ValueUSD = chainTotal
		total = total.Add(chainTotal)
	}
	summary.TotalValueUSD = total
	return nil
}

func valueOf(bal chains.Balance, lookup map[string]prices.Quote) decimal.Decimal {
	quote, ok := lookup[strings.ToUpper(bal.Symbol)]
	if !ok {
		return decimal.Zero
	}
	return bal.Amount.Mul(quote.PriceUSD)
}
