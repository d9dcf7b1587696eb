package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/openfolio/venuelink/internal/schema"
)

const (
	listenKeyPath      = "/api/v3/userDataStream"
	keepaliveInterval  = 30 * time.Minute
	reconnectDelay     = 5 * time.Second
	wsReadLimit        = 1 << 20
	wsHandshakeTimeout = 10 * time.Second
)

// userStream consumes the Binance listen-key user-data stream and publishes
// normalized balance events. On an unexpected close, exactly one reconnect
// attempt is pending at any time.
type userStream struct {
	adapter *Adapter
	ctx     context.Context
	cancel  context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnectMu      sync.Mutex
	reconnectPending bool

	listenKey string
}

// openUserStream creates and starts the user stream, acquiring wsMu itself
// to publish the handle.
func (a *Adapter) openUserStream() error {
	if a.opts.Settings.WSURL == "" {
		return fmt.Errorf("ws url not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	ws := &userStream{
		adapter:          a,
		ctx:              ctx,
		cancel:           cancel,
		connMu:           sync.Mutex{},
		conn:             nil,
		reconnectMu:      sync.Mutex{},
		reconnectPending: false,
		listenKey:        "",
	}
	if err := ws.open(); err != nil {
		cancel()
		return err
	}
	a.wsMu.Lock()
	a.ws = ws
	a.wsMu.Unlock()
	go ws.keepaliveLoop()
	return nil
}

func (s *userStream) open() error {
	key, err := s.requestListenKey()
	if err != nil {
		return fmt.Errorf("request listen key: %w", err)
	}
	s.listenKey = key

	dialCtx, cancel := context.WithTimeout(s.ctx, wsHandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.adapter.opts.Settings.WSURL+"/"+key, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.adapter.state.MarkWS(true)

	go s.readLoop(conn)
	return nil
}

// stop tears the stream down synchronously: the context cancellation stops
// the read loop, the keepalive loop, and any pending reconnect timer.
func (s *userStream) stop() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "disconnect")
		s.conn = nil
	}
	s.connMu.Unlock()
	s.adapter.state.MarkWS(false)
}

func (s *userStream) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(s.ctx)
		if err != nil {
			s.adapter.state.MarkWS(false)
			if s.ctx.Err() == nil {
				s.adapter.log.WithError(err).Warn("user stream closed, scheduling reconnect")
				s.scheduleReconnect()
			}
			return
		}
		s.handleMessage(payload)
	}
}

func (s *userStream) handleMessage(payload []byte) {
	var update accountUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		s.adapter.log.WithError(err).Debug("unparseable user-stream frame")
		return
	}
	if update.EventType != "outboundAccountPosition" {
		return
	}
	ts := time.UnixMilli(update.EventTime).UTC()
	for _, row := range update.Balances {
		free, err := dec(row.Free)
		if err != nil {
			continue
		}
		locked, err := dec(row.Locked)
		if err != nil {
			continue
		}
		s.adapter.balances.Publish(schema.BalanceEvent{
			Venue:     schema.VenueBinance,
			Balance:   schema.NewBalance(row.Asset, free, locked, schema.BalanceSpot),
			Timestamp: ts,
		})
	}
}

// scheduleReconnect arms a single reconnect timer. If an attempt is already
// pending this is a no-op, which bounds reconnect pressure to one timer.
func (s *userStream) scheduleReconnect() {
	s.reconnectMu.Lock()
	if s.reconnectPending {
		s.reconnectMu.Unlock()
		return
	}
	s.reconnectPending = true
	s.reconnectMu.Unlock()

	go func() {
		timer := time.NewTimer(reconnectDelay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		s.reconnectMu.Lock()
		s.reconnectPending = false
		s.reconnectMu.Unlock()

		if !s.adapter.state.Connected() {
			return
		}
		if err := s.open(); err != nil {
			s.adapter.log.WithError(err).Warn("user stream reconnect failed")
			s.scheduleReconnect()
		}
	}()
}

func (s *userStream) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.renewListenKey(); err != nil {
				s.adapter.log.WithError(err).Warn("listen key keepalive failed")
			}
		}
	}
}

func (s *userStream) requestListenKey() (string, error) {
	body, err := s.adapter.rest.Do(s.ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.adapter.opts.Settings.RESTURL+listenKeyPath, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set(apiKeyHeader, s.adapter.credentials().Key)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode listen key: %w", err)
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listen key")
	}
	return resp.ListenKey, nil
}

func (s *userStream) renewListenKey() error {
	params := url.Values{}
	params.Set("listenKey", s.listenKey)
	_, err := s.adapter.rest.Do(s.ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			s.adapter.opts.Settings.RESTURL+listenKeyPath+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set(apiKeyHeader, s.adapter.credentials().Key)
		return req, nil
	})
	return err
}
