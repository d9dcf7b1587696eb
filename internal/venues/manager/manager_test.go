package manager

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/openfolio/venuelink/config"
	"github.com/openfolio/venuelink/errs"
	"github.com/openfolio/venuelink/internal/schema"
	"github.com/openfolio/venuelink/internal/venues"
)

type stubAdapter struct {
	venues.Adapter

	connected   bool
	disconnects int
	connectErr  error
}

func (s *stubAdapter) Connect(_ context.Context, _ schema.Credentials) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *stubAdapter) Disconnect() {
	s.connected = false
	s.disconnects++
}

func (s *stubAdapter) IsConnected() bool { return s.connected }

func testSettings() config.Settings {
	return config.Settings{
		Venues: map[schema.Venue]config.VenueSettings{
			schema.VenueBinance: {},
			schema.VenueOKX:     {},
		},
	}
}

func stubFactory(adapter *stubAdapter) Factory {
	return func(config.VenueSettings, *logrus.Entry) venues.Adapter { return adapter }
}

func TestConnectRegistersPerAccountAndVenue(t *testing.T) {
	first := &stubAdapter{}
	second := &stubAdapter{}
	calls := 0
	r := NewRegistry(testSettings(), nil, WithFactory(schema.VenueBinance,
		func(config.VenueSettings, *logrus.Entry) venues.Adapter {
			calls++
			if calls == 1 {
				return first
			}
			return second
		}))

	ctx := context.Background()
	creds := schema.Credentials{Key: "k", Secret: "s"}

	a, err := r.Connect(ctx, "alice", schema.VenueBinance, creds)
	require.NoError(t, err)
	require.True(t, a.IsConnected())

	// Same venue for another account is an independent instance.
	b, err := r.Connect(ctx, "bob", schema.VenueBinance, creds)
	require.NoError(t, err)
	require.NotSame(t, a, b)

	got, ok := r.Get("alice", schema.VenueBinance)
	require.True(t, ok)
	require.Same(t, a, got)
	require.Len(t, r.Keys(), 2)
}

func TestConnectRejectsDuplicateKey(t *testing.T) {
	r := NewRegistry(testSettings(), nil,
		WithFactory(schema.VenueBinance, stubFactory(&stubAdapter{})))
	ctx := context.Background()
	creds := schema.Credentials{Key: "k", Secret: "s"}

	_, err := r.Connect(ctx, "alice", schema.VenueBinance, creds)
	require.NoError(t, err)
	_, err = r.Connect(ctx, "alice", schema.VenueBinance, creds)
	require.Error(t, err)
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
}

func TestConnectFailureLeavesNothingRegistered(t *testing.T) {
	stub := &stubAdapter{connectErr: errs.InvalidCredentials("binance", nil)}
	r := NewRegistry(testSettings(), nil, WithFactory(schema.VenueBinance, stubFactory(stub)))

	_, err := r.Connect(context.Background(), "alice", schema.VenueBinance, schema.Credentials{})
	require.Error(t, err)
	_, ok := r.Get("alice", schema.VenueBinance)
	require.False(t, ok)
}

func TestConnectUnknownOrUnconfiguredVenue(t *testing.T) {
	r := NewRegistry(testSettings(), nil)

	_, err := r.Connect(context.Background(), "alice", schema.Venue("kraken"), schema.Credentials{})
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))

	// Upbit has a factory but no settings in this fixture.
	_, err = r.Connect(context.Background(), "alice", schema.VenueUpbit, schema.Credentials{})
	require.Equal(t, errs.ClassClient, errs.ClassOf(err))
}

func TestDisconnectAndClose(t *testing.T) {
	stub := &stubAdapter{}
	r := NewRegistry(testSettings(), nil, WithFactory(schema.VenueBinance, stubFactory(stub)))
	ctx := context.Background()

	_, err := r.Connect(ctx, "alice", schema.VenueBinance, schema.Credentials{Key: "k"})
	require.NoError(t, err)

	require.True(t, r.Disconnect("alice", schema.VenueBinance))
	require.Equal(t, 1, stub.disconnects)
	require.False(t, r.Disconnect("alice", schema.VenueBinance), "second disconnect is a no-op")

	_, err = r.Connect(ctx, "alice", schema.VenueBinance, schema.Credentials{Key: "k"})
	require.NoError(t, err)
	r.Close()
	require.Empty(t, r.Keys())
	require.Equal(t, 2, stub.disconnects)
}

func TestSupportedListsAllVenues(t *testing.T) {
	r := NewRegistry(testSettings(), nil)
	supported := r.Supported()
	require.Len(t, supported, 5)
	require.Equal(t, schema.VenueBinance, supported[0], "list is sorted")
}

func TestCapabilitiesReflectVenueSurfaces(t *testing.T) {
	caps := NewRegistry(testSettings(), nil).Capabilities()
	require.Len(t, caps, 5)

	require.True(t, caps[schema.VenueBinance].HasSpot)
	require.True(t, caps[schema.VenueBinance].HasStreaming)
	require.False(t, caps[schema.VenueUpbit].HasFutures)
	require.True(t, caps[schema.VenueHyperliquid].ReadOnly)
	require.False(t, caps[schema.VenueDydx].RequiresSecret)
}
