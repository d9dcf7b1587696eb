package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfolio/venuelink/internal/schema"
)

func TestDefaultCoversAllVenues(t *testing.T) {
	cfg := Default()
	for _, venue := range []schema.Venue{
		schema.VenueBinance, schema.VenueOKX, schema.VenueUpbit,
		schema.VenueHyperliquid, schema.VenueDydx,
	} {
		vs, ok := cfg.Venues[venue]
		if !ok {
			t.Fatalf("missing settings for %s", venue)
		}
		if vs.RESTURL == "" {
			t.Fatalf("empty REST URL for %s", venue)
		}
		if vs.RateLimit.MaxRequests <= 0 || vs.RateLimit.Window <= 0 {
			t.Fatalf("missing rate-limit budget for %s", venue)
		}
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "venuelink.yaml")
	body := `
venues:
  binance:
    rest_url: https://testnet.binance.vision
    http_timeout: 5s
    rate_limit:
      max_requests: 10
      window: 1s
solana:
  enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	binance := cfg.Venues[schema.VenueBinance]
	if binance.RESTURL != "https://testnet.binance.vision" {
		t.Fatalf("rest_url = %s", binance.RESTURL)
	}
	if binance.HTTPTimeout != 5*time.Second {
		t.Fatalf("http_timeout = %s", binance.HTTPTimeout)
	}
	if binance.RateLimit.MaxRequests != 10 {
		t.Fatalf("max_requests = %d", binance.RateLimit.MaxRequests)
	}
	if cfg.Solana.Enabled {
		t.Fatal("expected solana disabled by overlay")
	}
	// Untouched venues keep defaults.
	if cfg.Venues[schema.VenueOKX].RESTURL != "https://www.okx.com" {
		t.Fatalf("okx default lost: %s", cfg.Venues[schema.VenueOKX].RESTURL)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("VENUELINK_BINANCE_API_KEY", "key")
	t.Setenv("VENUELINK_BINANCE_API_SECRET", "secret")
	creds := CredentialsFromEnv(schema.VenueBinance)
	if creds.Key != "key" || creds.Secret != "secret" {
		t.Fatalf("unexpected credentials: %+v", struct{ K, S string }{creds.Key, creds.Secret})
	}

	t.Setenv("VENUELINK_HYPERLIQUID_ADDRESS", "0xabc")
	creds = CredentialsFromEnv(schema.VenueHyperliquid)
	if creds.Key != "0xabc" || creds.Secret != "" {
		t.Fatal("expected address-only credentials for read-only venue")
	}
}
