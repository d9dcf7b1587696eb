// Package tokens caches token metadata (symbol, name, decimals) keyed by
// contract or mint address, loaded lazily from a hosted token list.
package tokens

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/openfolio/venuelink/config"
)

const maxListBytes = 16 << 20

// Token is one resolved token metadata entry.
type Token struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int32
}

type tokenList struct {
	Tokens []struct {
		Address  string `json:"address"`
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals int32  `json:"decimals"`
	} `json:"tokens"`
}

// Registry lazily loads and caches the token list. The cache is shared
// across chain providers; concurrent refreshes collapse into a single
// in-flight fetch.
type Registry struct {
	url   string
	ttl   time.Duration
	http  *http.Client
	clock func() time.Time
	log   *logrus.Entry

	group singleflight.Group

	mu        sync.RWMutex
	byAddress map[string]Token
	loadedAt  time.Time
}

// NewRegistry constructs an empty registry from settings.
func NewRegistry(settings config.TokenRegistrySettings, httpClient *http.Client, log *logrus.Entry) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logrus.WithField("component", "token_registry")
	}
	ttl := settings.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Registry{
		url:       settings.ListURL,
		ttl:       ttl,
		http:      httpClient,
		clock:     time.Now,
		log:       log,
		group:     singleflight.Group{},
		mu:        sync.RWMutex{},
		byAddress: nil,
		loadedAt:  time.Time{},
	}
}

// Lookup resolves one token by contract or mint address, loading the list
// on first use and after TTL expiry.
func (r *Registry) Lookup(ctx context.Context, address string) (Token, bool, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return Token{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.byAddress[strings.ToLower(address)]
	return token, ok, nil
}

// Refresh forces a reload regardless of TTL.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("load", func() (interface{}, error) {
		return nil, r.load(ctx)
	})
	return err
}

// Size reports the number of cached entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress)
}

func (r *Registry) ensureFresh(ctx context.Context) error {
	r.mu.RLock()
	fresh := r.byAddress != nil && r.clock().Sub(r.loadedAt) < r.ttl
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	_, err, _ := r.group.Do("load", func() (interface{}, error) {
		// Re-check under the flight: a racing caller may have loaded already.
		r.mu.RLock()
		fresh := r.byAddress != nil && r.clock().Sub(r.loadedAt) < r.ttl
		r.mu.RUnlock()
		if fresh {
			return nil, nil
		}
		return nil, r.load(ctx)
	})
	return err
}

func (r *Registry) load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch token list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch token list: status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return fmt.Errorf("read token list: %w", err)
	}
	var list tokenList
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("decode token list: %w", err)
	}

	byAddress := make(map[string]Token, len(list.Tokens))
	for _, row := range list.Tokens {
		if row.Address == "" || row.Symbol == "" {
			continue
		}
		byAddress[strings.ToLower(row.Address)] = Token{
			Address:  row.Address,
			Symbol:   row.Symbol,
			Name:     row.Name,
			Decimals: row.Decimals,
		}
	}

	r.mu.Lock()
	r.byAddress = byAddress
	r.loadedAt = r.clock()
	r.mu.Unlock()
	r.log.WithField("tokens", len(byAddress)).Debug("token list loaded")
	return nil
}
