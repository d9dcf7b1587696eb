// Package manager wires venue names to adapter constructors and tracks the
// live adapter instances per account.
package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/venues"
	"github.com/openfolio/venuelink/internal/venues/binance"
	"github.com/openfolio/venuelink/internal/venues/dydx"
	"github.com/openfolio/venuelink/internal/venues/hyperliquid"
	"github.com/openfolio/venuelink/internal/venues/okx"
	"github.com/openfolio/venuelink/internal/venues/upbit"
)

// Factory builds a fresh, disconnected adapter for one venue.
type Factory func(settings config.VenueSettings, log *logrus.Entry) venues.Adapter

func defaultFactories() map[schema.Venue]Factory {
	return map[schema.Venue]Factory{
		schema.VenueBinance: func(settings config.VenueSettings, log *logrus.Entry) venues.Adapter {
			return binance.New(binance.Options{Settings: settings, Log: log})
		},
		schema.VenueOKX: func(settings config.VenueSettings, log *logrus.Entry) venues.Adapter {
			return okx.New(okx.Options{Settings: settings, Log: log})
		},
		schema.VenueUpbit: func(settings config.VenueSettings, log *logrus.Entry) venues.Adapter {
			return upbit.New(upbit.Options{Settings: settings, Log: log})
		},
		schema.VenueHyperliquid: func(settings config.VenueSettings, log *logrus.Entry) venues.Adapter {
			return hyperliquid.New(hyperliquid.Options{Settings: settings, Log: log})
		},
		schema.VenueDydx: func(settings config.VenueSettings, log *logrus.Entry) venues.Adapter {
			return dydx.New(dydx.Options{Settings: settings, Log: log})
		},
	}
}

// Key identifies one adapter instance: the same venue connected for two
// accounts yields two independent instances.
type Key struct {
	Account string
	Venue   schema.Venue
}

// Registry owns live adapter instances keyed by account and venue.
type Registry struct {
	settings  config.Settings
	factories map[schema.Venue]Factory
	log       *logrus.Entry

	mu       sync.Mutex
	adapters map[Key]venues.Adapter
}

// Option customizes a registry.
type Option func(*Registry)

// WithFactory overrides the constructor for one venue. Tests use this to
// substitute doubles.
func WithFactory(venue schema.Venue, factory Factory) Option {
	return func(r *Registry) {
		r.factories[venue] = factory
	}
}

// NewRegistry constructs an empty registry over the configured venues.
func NewRegistry(settings config.Settings, log *logrus.Entry, opts ...Option) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	r := &Registry{
		settings:  settings,
		factories: defaultFactories(),
		log:       log,
		mu:        sync.Mutex{},
		adapters:  make(map[Key]venues.Adapter),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Supported lists the venues the registry can construct, sorted by name.
func (r *Registry) Supported() []schema.Venue {
	out := make([]schema.Venue, 0, len(r.factories))
	for venue := range r.factories {
		out = append(out, venue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capabilities reports the capability flags of every supported venue
// without connecting anything. Factories build throwaway disconnected
// adapters just to read their Info.
func (r *Registry) Capabilities() map[schema.Venue]schema.ExchangeInfo {
	out := make(map[schema.Venue]schema.ExchangeInfo, len(r.factories))
	for venue, factory := range r.factories {
		settings := r.settings.Venues[venue]
		adapter := factory(settings, r.log.WithField("venue", venue))
		out[venue] = adapter.Info()
	}
	return out
}

// Connect builds an adapter for the account and venue, connects it, and
// registers it. Connecting an already-registered key fails without touching
// the existing instance.
func (r *Registry) Connect(ctx context.Context, account string, venue schema.Venue, creds schema.Credentials) (venues.Adapter, error) {
	factory, ok := r.factories[venue]
	if !ok {
		return nil, errs.New(string(venue), errs.ClassClient,
			errs.WithMessage("unsupported venue"))
	}
	settings, ok := r.settings.Venues[venue]
	if !ok {
		return nil, errs.New(string(venue), errs.ClassClient,
			errs.WithMessage("venue not configured"))
	}
	key := Key{Account: account, Venue: venue}

	r.mu.Lock()
	if _, exists := r.adapters[key]; exists {
		r.mu.Unlock()
		return nil, errs.New(string(venue), errs.ClassClient,
			errs.WithMessage(fmt.Sprintf("venue already connected for account %s", account)))
	}
	r.mu.Unlock()

	adapter := factory(settings, r.log.WithFields(logrus.Fields{
		"venue":   venue,
		"account": account,
	}))
	if err := adapter.Connect(ctx, creds); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[key]; exists {
		// Lost the race to a concurrent Connect for the same key.
		adapter.Disconnect()
		return nil, errs.New(string(venue), errs.ClassClient,
			errs.WithMessage(fmt.Sprintf("venue already connected for account %s", account)))
	}
	r.adapters[key] = adapter
	return adapter, nil
}

// Get returns the live adapter for the account and venue.
func (r *Registry) Get(account string, venue schema.Venue) (venues.Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adapter, ok := r.adapters[Key{Account: account, Venue: venue}]
	return adapter, ok
}

// Disconnect tears one adapter down and removes it.
func (r *Registry) Disconnect(account string, venue schema.Venue) bool {
	key := Key{Account: account, Venue: venue}
	r.mu.Lock()
	adapter, ok := r.adapters[key]
	if ok {
		delete(r.adapters, key)
	}
	r.mu.Unlock()
	if ok {
		adapter.Disconnect()
	}
	return ok
}

// Keys lists the registered instances sorted by account then venue.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	out := make([]Key, 0, len(r.adapters))
	for key := range r.adapters {
		out = append(out, key)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Venue < out[j].Venue
	})
	return out
}

// Close disconnects every registered adapter.
func (r *Registry) Close() {
	r.mu.Lock()
	adapters := make([]venues.Adapter, 0, len(r.adapters))
	for key, adapter := range r.adapters {
		adapters = append(adapters, adapter)
		delete(r.adapters, key)
	}
	r.mu.Unlock()
	for _, adapter := range adapters {
		adapter.Disconnect()
	}
}
