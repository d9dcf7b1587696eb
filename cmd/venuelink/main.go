// Command venuelink runs a one-shot sync: it connects the configured
// venues and chains, pulls normalized balances, positions, and wallet
// summaries, and prints them as JSON lines.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/internal/chains"
	"github.com/openfolio/venuelink/internal/chains/evm"
	solanachain "github.com/openfolio/venuelink/internal/chains/solana"
	"github.com/openfolio/venuelink/internal/chains/tokens"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/venues"
	"github.com/openfolio/venuelink/internal/venues/manager"
	"github.com/openfolio/venuelink/internal/wallet"
)

const (
	defaultConfigPath = "config/venuelink.yaml"
	defaultAccount    = "default"
	syncTimeout       = 2 * time.Minute
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "configuration file path")
	wallets := flag.String("wallets", "", "comma-separated wallet addresses to summarize")
	flag.Parse()

	_ = godotenv.Load()

	log := logrus.NewEntry(newLogger())
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, syncTimeout)
	defer timeoutCancel()

	settings, err := loadSettings(*configPath, log)
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	registry := manager.NewRegistry(settings, log)
	defer registry.Close()
	syncVenues(ctx, registry, settings, log)

	if *wallets != "" {
		syncWallets(ctx, settings, splitList(*wallets), log)
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("VENUELINK_LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func loadSettings(path string, log *logrus.Entry) (config.Settings, error) {
	settings, err := config.LoadFile(path)
	if err == nil {
		return settings, nil
	}
	if os.IsNotExist(err) {
		log.WithField("path", path).Info("configuration file not found, using defaults")
		return config.Default(), nil
	}
	return config.Settings{}, err
}

// syncVenues connects every venue with credentials in the environment and
// prints its holdings. Venues without credentials are skipped.
func syncVenues(ctx context.Context, registry *manager.Registry, settings config.Settings, log *logrus.Entry) {
	for venue := range settings.Venues {
		creds := config.CredentialsFromEnv(venue)
		if creds.Empty() {
			log.WithField("venue", venue).Debug("no credentials, skipping")
			continue
		}
		adapter, err := registry.Connect(ctx, defaultAccount, venue, creds)
		if err != nil {
			log.WithError(err).WithField("venue", venue).Error("connect failed")
			continue
		}
		emitVenue(ctx, venue, adapter, log)
	}
}

func emitVenue(ctx context.Context, venue schema.Venue, adapter venues.Adapter, log *logrus.Entry) {
	info := adapter.Info()
	if info.HasSpot {
		if balances, err := adapter.SpotBalances(ctx); err != nil {
			log.WithError(err).WithField("venue", venue).Error("spot balances")
		} else {
			emit("spot_balances", venue, balances)
		}
	}
	if info.HasFutures {
		if balances, err := adapter.FuturesBalances(ctx); err != nil {
			log.WithError(err).WithField("venue", venue).Error("futures balances")
		} else {
			emit("futures_balances", venue, balances)
		}
		if positions, err := adapter.FuturesPositions(ctx); err != nil {
			log.WithError(err).WithField("venue", venue).Error("futures positions")
		} else {
			emit("futures_positions", venue, positions)
		}
	}
}

func syncWallets(ctx context.Context, settings config.Settings, addresses []string, log *logrus.Entry) {
	providers := buildProviders(settings, log)
	if len(providers) == 0 {
		log.Warn("no chains enabled, skipping wallet sync")
		return
	}
	svc := wallet.New(providers, nil, log)
	summaries, err := svc.WalletSummaries(ctx, addresses)
	if err != nil {
		log.WithError(err).Error("wallet sync failed")
		return
	}
	for _, summary := range summaries {
		emit("wallet_summary", "", summary)
	}
}

func buildProviders(settings config.Settings, log *logrus.Entry) []chains.Provider {
	registry := tokens.NewRegistry(settings.TokenRegistry, nil, log)
	providers := make([]chains.Provider, 0, len(settings.EVMChains)+1)
	for chain, chainSettings := range settings.EVMChains {
		if !chainSettings.Enabled {
			continue
		}
		provider, err := evm.New(evm.Options{
			Chain:    chain,
			Settings: chainSettings,
			Registry: registry,
			Log:      log.WithField("chain", chain),
		})
		if err != nil {
			log.WithError(err).WithField("chain", chain).Error("chain provider unavailable")
			continue
		}
		providers = append(providers, provider)
	}
	if settings.Solana.Enabled {
		providers = append(providers, solanachain.New(solanachain.Options{
			Settings: settings.Solana,
			Registry: registry,
			Log:      log.WithField("chain", "solana"),
		}))
	}
	return providers
}

func emit(kind string, venue schema.Venue, payload interface{}) {
	line := struct {
		Kind    string       `json:"kind"`
		Venue   schema.Venue `json:"venue,omitempty"`
		Payload interface{}  `json:"payload"`
	}{Kind: kind, Venue: venue, Payload: payload}
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(line)
}

func splitList(raw string) []string {
	out := make([]string, 0, 4)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
