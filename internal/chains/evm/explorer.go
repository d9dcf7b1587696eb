package evm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
)

const maxExplorerBytes = 8 << 20

// Explorer queries an etherscan-compatible transfer index.
type Explorer struct {
	chain  string
	url    string
	apiKey string
	http   *http.Client
}

// NewExplorer constructs an explorer client from chain settings.
func NewExplorer(chain string, settings config.EVMChainSettings, httpClient *http.Client) *Explorer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Explorer{
		chain:  chain,
		url:    settings.ExplorerURL,
		apiKey: settings.ExplorerAPIKey,
		http:   httpClient,
	}
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type transferRow struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	TimeStamp       string `json:"timeStamp"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenName       string `json:"tokenName"`
	TokenDecimal    string `json:"tokenDecimal"`
}

// TokenTransfers lists token transfer events touching the address.
func (e *Explorer) TokenTransfers(ctx context.Context, address string) ([]transferRow, error) {
	return e.list(ctx, "tokentx", address)
}

// NativeTransfers lists normal transactions touching the address.
func (e *Explorer) NativeTransfers(ctx context.Context, address string) ([]transferRow, error) {
	return e.list(ctx, "txlist", address)
}

func (e *Explorer) list(ctx context.Context, action, address string) ([]transferRow, error) {
	if e.url == "" {
		return nil, errs.New(e.chain, errs.ClassClient,
			errs.WithMessage("explorer not configured"))
	}
	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", address)
	params.Set("sort", "desc")
	if e.apiKey != "" {
		params.Set("apikey", e.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, errs.New(e.chain, errs.ClassNetwork, errs.WithCause(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(e.chain, errs.FromHTTPStatus(resp.StatusCode),
			errs.WithHTTP(resp.StatusCode))
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxExplorerBytes))
	if err != nil {
		return nil, errs.New(e.chain, errs.ClassNetwork, errs.WithCause(err))
	}
	var envelope explorerResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode explorer response: %w", err)
	}
	// Status "0" with "No transactions found" is an empty result, not an
	// error; anything else non-"1" is a venue failure.
	if envelope.Status != "1" {
		if strings.Contains(strings.ToLower(envelope.Message), "no transactions") {
			return []transferRow{}, nil
		}
		class := errs.ClassServer
		if strings.Contains(strings.ToLower(envelope.Message), "rate limit") {
			class = errs.ClassRateLimit
		}
		return nil, errs.New(e.chain, class,
			errs.WithMessage(envelope.Message),
			errs.WithRawMessage(string(envelope.Result)))
	}
	var rows []transferRow
	if err := json.Unmarshal(envelope.Result, &rows); err != nil {
		return nil, fmt.Errorf("decode explorer result: %w", err)
	}
	return rows, nil
}
