// Package config centralises runtime configuration for venuelink.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfolio/venuelink/internal/schema"
)

// RateLimitSettings configures the fixed-window budget for one venue.
type RateLimitSettings struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// RetrySettings configures backoff behaviour for one venue or chain.
type RetrySettings struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// VenueSettings aggregates transport configuration for one venue adapter.
type VenueSettings struct {
	RESTURL     string            `yaml:"rest_url"`
	WSURL       string            `yaml:"ws_url"`
	HTTPTimeout time.Duration     `yaml:"http_timeout"`
	RateLimit   RateLimitSettings `yaml:"rate_limit"`
	Retry       RetrySettings     `yaml:"retry"`
}

// TokenRef pins a well-known token contract on an EVM chain.
type TokenRef struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
}

// EVMChainSettings configures one EVM chain provider.
type EVMChainSettings struct {
	Enabled        bool       `yaml:"enabled"`
	RPCURL         string     `yaml:"rpc_url"`
	ExplorerURL    string     `yaml:"explorer_url"`
	ExplorerAPIKey string     `yaml:"explorer_api_key"`
	CommonTokens   []TokenRef `yaml:"common_tokens"`
}

// SolanaSettings configures the Solana provider.
type SolanaSettings struct {
	Enabled bool   `yaml:"enabled"`
	RPCURL  string `yaml:"rpc_url"`
}

// TokenRegistrySettings configures the shared token metadata cache.
type TokenRegistrySettings struct {
	ListURL string        `yaml:"list_url"`
	TTL     time.Duration `yaml:"ttl"`
}

// Settings is the venuelink configuration tree.
type Settings struct {
	Venues        map[schema.Venue]VenueSettings `yaml:"venues"`
	EVMChains     map[string]EVMChainSettings    `yaml:"evm_chains"`
	Solana        SolanaSettings                 `yaml:"solana"`
	TokenRegistry TokenRegistrySettings          `yaml:"token_registry"`
}

// Default returns the built-in configuration covering every supported venue
// with its published rate-limit budget.
func Default() Settings {
	return Settings{
		Venues: map[schema.Venue]VenueSettings{
			schema.VenueBinance: {
				RESTURL:     "https://api.binance.com",
				WSURL:       "wss://stream.binance.com:9443/ws",
				HTTPTimeout: 15 * time.Second,
				RateLimit:   RateLimitSettings{MaxRequests: 1200, Window: time.Minute},
				Retry:       RetrySettings{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
			},
			schema.VenueOKX: {
				RESTURL:     "https://www.okx.com",
				WSURL:       "wss://ws.okx.com:8443/ws/v5/private",
				HTTPTimeout: 15 * time.Second,
				RateLimit:   RateLimitSettings{MaxRequests: 60, Window: 2 * time.Second},
				Retry:       RetrySettings{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
			},
			schema.VenueUpbit: {
				RESTURL:     "https://api.upbit.com",
				WSURL:       "",
				HTTPTimeout: 15 * time.Second,
				RateLimit:   RateLimitSettings{MaxRequests: 100, Window: 10 * time.Second},
				Retry:       RetrySettings{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
			},
			schema.VenueHyperliquid: {
				RESTURL:     "https://api.hyperliquid.xyz",
				WSURL:       "",
				HTTPTimeout: 15 * time.Second,
				RateLimit:   RateLimitSettings{MaxRequests: 100, Window: time.Minute},
				Retry:       RetrySettings{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
			},
			schema.VenueDydx: {
				RESTURL:     "https://indexer.dydx.trade",
				WSURL:       "",
				HTTPTimeout: 15 * time.Second,
				RateLimit:   RateLimitSettings{MaxRequests: 100, Window: 10 * time.Second},
				Retry:       RetrySettings{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second},
			},
		},
		EVMChains: map[string]EVMChainSettings{
			"ethereum": {
				Enabled:     true,
				RPCURL:      "https://eth.llamarpc.com",
				ExplorerURL: "https://api.etherscan.io/api",
				CommonTokens: []TokenRef{
					{Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Symbol: "USDT", Decimals: 6},
					{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6},
					{Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Symbol: "WBTC", Decimals: 8},
					{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18},
				},
			},
			"polygon": {
				Enabled:     false,
				RPCURL:      "https://polygon-rpc.com",
				ExplorerURL: "https://api.polygonscan.com/api",
				CommonTokens: []TokenRef{
					{Address: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Symbol: "USDT", Decimals: 6},
					{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Symbol: "USDC", Decimals: 6},
				},
			},
		},
		Solana: SolanaSettings{
			Enabled: true,
			RPCURL:  "https://api.mainnet-beta.solana.com",
		},
		TokenRegistry: TokenRegistrySettings{
			ListURL: "https://tokens.coingecko.com/uniswap/all.json",
			TTL:     24 * time.Hour,
		},
	}
}

// LoadFile overlays YAML configuration from path on top of the defaults.
func LoadFile(path string) (Settings, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// CredentialsFromEnv resolves venue credentials from the environment.
// Variables follow VENUELINK_<VENUE>_API_KEY / _API_SECRET / _PASSPHRASE.
// Read-only venues use _ADDRESS as the key. Secrets never enter Settings so
// a dumped config tree cannot leak them.
func CredentialsFromEnv(venue schema.Venue) schema.Credentials {
	prefix := "VENUELINK_" + strings.ToUpper(string(venue)) + "_"
	creds := schema.Credentials{
		Key:        os.Getenv(prefix + "API_KEY"),
		Secret:     os.Getenv(prefix + "API_SECRET"),
		Passphrase: os.Getenv(prefix + "PASSPHRASE"),
	}
	if creds.Key == "" {
		creds.Key = os.Getenv(prefix + "ADDRESS")
	}
	return creds
}
