// Package solana implements the chain provider for Solana: native lamports
// plus SPL token accounts owned by an address.
package solana

import (
	"context"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/chains"
	"github.com/openfolio/venuelink/internal/chains/tokens"
)

const (
	chainName       = "solana"
	lamportDecimals = 9
)

// Holding is one SPL token account in raw units.
type Holding struct {
	Mint   string
	Amount uint64
}

// Backend is the slice of the Solana RPC surface the provider consumes;
// tests substitute a local double.
type Backend interface {
	NativeLamports(ctx context.Context, address string) (uint64, error)
	TokenHoldings(ctx context.Context, address string) ([]Holding, error)
	Signatures(ctx context.Context, address string, limit int) ([]chains.TxRecord, error)
	Healthy(ctx context.Context) bool
}

// Options configures a Solana provider instance.
type Options struct {
	Settings config.SolanaSettings
	Backend  Backend
	Registry *tokens.Registry
	Log      *logrus.Entry
}

// Provider implements chains.Provider for Solana.
type Provider struct {
	backend  Backend
	registry *tokens.Registry
	log      *logrus.Entry
}

var _ chains.Provider = (*Provider)(nil)

// New constructs a provider. When no backend is injected one is built over
// the configured RPC endpoint.
func New(opts Options) *Provider {
	if opts.Log == nil {
		opts.Log = logrus.WithField("chain", chainName)
	}
	if opts.Backend == nil {
		opts.Backend = &rpcBackend{client: rpc.New(opts.Settings.RPCURL)}
	}
	return &Provider{
		backend:  opts.Backend,
		registry: opts.Registry,
		log:      opts.Log,
	}
}

func (p *Provider) Chain() string { return chainName }

// NativeBalance returns the SOL balance for the address.
func (p *Provider) NativeBalance(ctx context.Context, address string) (chains.Balance, error) {
	lamports, err := p.backend.NativeLamports(ctx, address)
	if err != nil {
		return chains.Balance{}, wrap(err)
	}
	return chains.Balance{
		Chain:    chainName,
		Symbol:   "SOL",
		Name:     "Solana",
		Amount:   decimal.NewFromUint64(lamports).Shift(-lamportDecimals),
		Decimals: lamportDecimals,
	}, nil
}

// TokenBalances returns non-zero SPL holdings. Metadata comes from the
// token registry; mints the registry does not know are skipped.
func (p *Provider) TokenBalances(ctx context.Context, address string) ([]chains.Balance, error) {
	holdings, err := p.backend.TokenHoldings(ctx, address)
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]chains.Balance, 0, len(holdings))
	for _, holding := range holdings {
		if holding.Amount == 0 {
			continue
		}
		if p.registry == nil {
			continue
		}
		meta, ok, err := p.registry.Lookup(ctx, holding.Mint)
		if err != nil {
			return nil, err
		}
		if !ok {
			p.log.WithField("mint", holding.Mint).Debug("unknown mint skipped")
			continue
		}
		out = append(out, chains.Balance{
			Chain:        chainName,
			Symbol:       meta.Symbol,
			Name:         meta.Name,
			TokenAddress: holding.Mint,
			Amount:       decimal.NewFromUint64(holding.Amount).Shift(-meta.Decimals),
			Decimals:     meta.Decimals,
		})
	}
	return out, nil
}

// TransactionHistory returns recent confirmed signatures for the address.
func (p *Provider) TransactionHistory(ctx context.Context, address string, q chains.HistoryQuery) ([]chains.TxRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	records, err := p.backend.Signatures(ctx, address, limit)
	if err != nil {
		return nil, wrap(err)
	}
	if q.Since.IsZero() {
		return records, nil
	}
	out := records[:0]
	for _, record := range records {
		if record.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// rpcBackend adapts the solana-go RPC client to the Backend surface.
type rpcBackend struct {
	client *rpc.Client
}

func (b *rpcBackend) NativeLamports(ctx context.Context, address string) (uint64, error) {
	owner, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return 0, errs.New(chainName, errs.ClassClient,
			errs.WithMessage("invalid address"), errs.WithCause(err))
	}
	out, err := b.client.GetBalance(ctx, owner, rpc.CommitmentFinalized)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

func (b *rpcBackend) TokenHoldings(ctx context.Context, address string) ([]Holding, error) {
	owner, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, errs.New(chainName, errs.ClassClient,
			errs.WithMessage("invalid address"), errs.WithCause(err))
	}
	out, err := b.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solanago.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Encoding: solanago.EncodingBase64})
	if err != nil {
		return nil, err
	}
	holdings := make([]Holding, 0, len(out.Value))
	for _, keyed := range out.Value {
		var account token.Account
		if err := bin.NewBinDecoder(keyed.Account.Data.GetBinary()).Decode(&account); err != nil {
			return nil, fmt.Errorf("decode token account: %w", err)
		}
		holdings = append(holdings, Holding{
			Mint:   account.Mint.String(),
			Amount: account.Amount,
		})
	}
	return holdings, nil
}

func (b *rpcBackend) Signatures(ctx context.Context, address string, limit int) ([]chains.TxRecord, error) {
	owner, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, errs.New(chainName, errs.ClassClient,
			errs.WithMessage("invalid address"), errs.WithCause(err))
	}
	out, err := b.client.GetSignaturesForAddressWithOpts(ctx, owner,
		&rpc.GetSignaturesForAddressOpts{Limit: &limit})
	if err != nil {
		return nil, err
	}
	records := make([]chains.TxRecord, 0, len(out))
	for _, sig := range out {
		record := chains.TxRecord{
			Chain:  chainName,
			Hash:   sig.Signature.String(),
			Symbol: "SOL",
		}
		if sig.BlockTime != nil {
			record.Timestamp = sig.BlockTime.Time().UTC()
		}
		records = append(records, record)
	}
	return records, nil
}

func (b *rpcBackend) Healthy(ctx context.Context) bool {
	out, err := b.client.GetHealth(ctx)
	return err == nil && out == rpc.HealthOk
}

// wrap folds RPC errors into the shared taxonomy, passing through errors
// that were already classified.
func wrap(err error) error {
	if errs.ClassOf(err) != errs.ClassUnknown {
		return err
	}
	class := errs.ClassNetwork
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		class = errs.ClassTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate"):
		class = errs.ClassRateLimit
	}
	return errs.New(chainName, class, errs.WithCause(err))
}
