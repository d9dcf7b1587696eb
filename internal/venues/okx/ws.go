package okx

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/openfolio/venuelink/internal/schema"
)

const (
	loginTimeout       = 10 * time.Second
	reconnectDelay     = 5 * time.Second
	pingInterval       = 25 * time.Second
	wsReadLimit        = 1 << 20
	wsHandshakeTimeout = 10 * time.Second
)

// privateWS consumes the OKX private websocket: it authenticates with the
// login op, subscribes to the account and positions channels, and publishes
// normalized events. On an unexpected close, exactly one reconnect attempt
// is pending at any time.
type privateWS struct {
	adapter *Adapter
	ctx     context.Context
	cancel  context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn

	reconnectMu      sync.Mutex
	reconnectPending bool
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsArg struct {
	Channel    string `json:"channel,omitempty"`
	InstType   string `json:"instType,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Sign       string `json:"sign,omitempty"`
}

type wsFrame struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   wsFrameArg      `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

type wsFrameArg struct {
	Channel string `json:"channel"`
}

// openPrivateWS creates and starts the private stream.
func (a *Adapter) openPrivateWS() error {
	if a.opts.Settings.WSURL == "" {
		return fmt.Errorf("ws url not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	ws := &privateWS{
		adapter:          a,
		ctx:              ctx,
		cancel:           cancel,
		connMu:           sync.Mutex{},
		conn:             nil,
		reconnectMu:      sync.Mutex{},
		reconnectPending: false,
	}
	if err := ws.open(); err != nil {
		cancel()
		return err
	}
	a.wsMu.Lock()
	a.ws = ws
	a.wsMu.Unlock()
	go ws.pingLoop()
	return nil
}

func (s *privateWS) open() error {
	dialCtx, cancel := context.WithTimeout(s.ctx, wsHandshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.adapter.opts.Settings.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial private ws: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	if err := s.login(conn); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "login failed")
		return err
	}
	if err := s.subscribe(conn); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.adapter.state.MarkWS(true)

	go s.readLoop(conn)
	return nil
}

// login performs the auth handshake and waits for the login ack. The
// signature covers an epoch-second timestamp and the fixed verify path.
func (s *privateWS) login(conn *websocket.Conn) error {
	creds := s.adapter.credentials()
	if creds.Key == "" {
		return fmt.Errorf("missing credentials")
	}
	ts := strconv.FormatInt(s.adapter.opts.Clock().Unix(), 10)
	req := wsRequest{
		Op: "login",
		Args: []wsArg{{
			APIKey:     creds.Key,
			Passphrase: creds.Passphrase,
			Timestamp:  ts,
			Sign:       Sign(creds.Secret, ts, http.MethodGet, "/users/self/verify", ""),
		}},
	}
	ctx, cancel := context.WithTimeout(s.ctx, loginTimeout)
	defer cancel()
	if err := writeJSON(ctx, conn, req); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	_, payload, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("read login ack: %w", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return fmt.Errorf("decode login ack: %w", err)
	}
	if frame.Event == "error" || (frame.Code != "" && frame.Code != "0") {
		return fmt.Errorf("login rejected: code=%s msg=%s", frame.Code, frame.Msg)
	}
	return nil
}

func (s *privateWS) subscribe(conn *websocket.Conn) error {
	req := wsRequest{
		Op: "subscribe",
		Args: []wsArg{
			{Channel: "account"},
			{Channel: "positions", InstType: "ANY"},
		},
	}
	ctx, cancel := context.WithTimeout(s.ctx, loginTimeout)
	defer cancel()
	if err := writeJSON(ctx, conn, req); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return nil
}

// stop tears the stream down synchronously: the context cancellation stops
// the read loop, the ping loop, and any pending reconnect timer.
func (s *privateWS) stop() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "disconnect")
		s.conn = nil
	}
	s.connMu.Unlock()
	s.adapter.state.MarkWS(false)
}

func (s *privateWS) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.Read(s.ctx)
		if err != nil {
			s.adapter.state.MarkWS(false)
			if s.ctx.Err() == nil {
				s.adapter.log.WithError(err).Warn("private ws closed, scheduling reconnect")
				s.scheduleReconnect()
			}
			return
		}
		s.handleMessage(payload)
	}
}

func (s *privateWS) handleMessage(payload []byte) {
	if string(payload) == "pong" {
		return
	}
	var frame wsFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.adapter.log.WithError(err).Debug("unparseable private ws frame")
		return
	}
	if frame.Event == "error" {
		s.adapter.log.WithFields(map[string]interface{}{
			"code": frame.Code,
			"msg":  frame.Msg,
		}).Warn("private ws error frame")
		return
	}
	switch frame.Arg.Channel {
	case "account":
		s.publishBalances(frame.Data)
	case "positions":
		s.publishPositions(frame.Data)
	}
}

func (s *privateWS) publishBalances(data json.RawMessage) {
	var rows []balanceData
	if err := json.Unmarshal(data, &rows); err != nil {
		s.adapter.log.WithError(err).Debug("unparseable account push")
		return
	}
	ts := s.adapter.opts.Clock().UTC()
	for _, account := range rows {
		for _, row := range account.Details {
			free, err := dec(row.AvailBal)
			if err != nil {
				continue
			}
			locked, err := dec(row.FrozenBal)
			if err != nil {
				continue
			}
			s.adapter.balances.Publish(schema.BalanceEvent{
				Venue:     schema.VenueOKX,
				Balance:   schema.NewBalance(row.Ccy, free, locked, schema.BalanceSpot),
				Timestamp: ts,
			})
		}
	}
}

func (s *privateWS) publishPositions(data json.RawMessage) {
	var rows []positionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		s.adapter.log.WithError(err).Debug("unparseable positions push")
		return
	}
	ts := s.adapter.opts.Clock().UTC()
	for _, row := range rows {
		pos, ok, err := mapPosition(row)
		if err != nil || !ok {
			continue
		}
		s.adapter.positions.Publish(schema.PositionEvent{
			Venue:     schema.VenueOKX,
			Position:  pos,
			Timestamp: ts,
		})
	}
}

// scheduleReconnect arms a single reconnect timer. If an attempt is already
// pending this is a no-op, which bounds reconnect pressure to one timer.
func (s *privateWS) scheduleReconnect() {
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
			s.adapter.log.WithError(err).Warn("private ws reconnect failed")
			s.scheduleReconnect()
		}
	}()
}

// pingLoop keeps the venue-side idle timeout from firing.
func (s *privateWS) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, loginTimeout)
			err := conn.Write(ctx, websocket.MessageText, []byte("ping"))
			cancel()
			if err != nil {
				s.adapter.log.WithError(err).Debug("private ws ping failed")
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
