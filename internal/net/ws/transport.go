// Package ws maintains a reconnecting websocket connection to the simulation
// server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/Route-Sim/VISTA-sub000/internal/backoff"
	"github.com/Route-Sim/VISTA-sub000/internal/subscribers"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/lifecycle"
	"github.com/Route-Sim/VISTA-sub000/logging/network"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = 2 * time.Second
)

var (
	// ErrNotOpen is returned by Send when no connection is established.
	ErrNotOpen = errors.New("ws: connection not open")
	// ErrInvalidUTF8 is reported through OnError for binary frames that are not text.
	ErrInvalidUTF8 = errors.New("ws: binary frame is not valid utf-8")
)

// State is the connection lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// URLFunc resolves the endpoint. It is evaluated on every dial.
type URLFunc func() (string, error)

// StaticURL returns a URLFunc that always yields url.
func StaticURL(url string) URLFunc {
	return func() (string, error) { return url, nil }
}

// CloseEvent describes why a connection ended.
type CloseEvent struct {
	Code     int
	Reason   string
	Explicit bool
}

// Config wires the transport dependencies.
type Config struct {
	Name         string
	URL          URLFunc
	Header       http.Header
	Dialer       *websocket.Dialer
	Backoff      *backoff.Strategy
	Clock        clock.Clock
	PingInterval time.Duration
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Publisher    logging.Publisher
}

// Transport owns at most one live websocket and re-dials after unexpected
// closes. Open, message and close callbacks for a connection are delivered
// from a single goroutine in that order.
type Transport struct {
	cfg   Config
	actor logging.EntityRef

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	generation     uint64
	explicitClose  bool
	redial         bool
	cancelDial     context.CancelFunc
	reconnectTimer *clock.Timer

	writeMu sync.Mutex
	wg      sync.WaitGroup

	openHooks    subscribers.Set[func()]
	closeHooks   subscribers.Set[func(CloseEvent)]
	messageHooks subscribers.Set[func(string)]
	errorHooks   subscribers.Set[func(error)]
}

// New constructs an idle transport. Nothing is dialled until Connect.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == nil {
		return nil, errors.New("ws: url func is required")
	}
	if cfg.Name == "" {
		cfg.Name = "primary"
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.New(backoff.DefaultConfig(), nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	return &Transport{
		cfg:   cfg,
		actor: logging.EntityRef{ID: cfg.Name, Kind: logging.EntityKindConnection},
	}, nil
}

// OnOpen registers fn for connection opens.
func (t *Transport) OnOpen(fn func()) func() { return t.openHooks.Add(fn) }

// OnClose registers fn for connection closes, including failed dials.
func (t *Transport) OnClose(fn func(CloseEvent)) func() { return t.closeHooks.Add(fn) }

// OnMessage registers fn for inbound text frames.
func (t *Transport) OnMessage(fn func(string)) func() { return t.messageHooks.Add(fn) }

// OnError registers fn for transport errors. Errors alone never trigger a
// reconnect.
func (t *Transport) OnError(fn func(error)) func() { return t.errorHooks.Add(fn) }

// State reports the current lifecycle stage.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect starts dialling. It is a no-op while connecting or open. While a
// previous connection is closing, the dial starts once its close has been
// reported.
func (t *Transport) Connect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateConnecting, StateOpen:
		return
	case StateClosing:
		t.redial = true
		return
	}
	t.explicitClose = false
	t.redial = false
	t.connectLocked()
}

// connectLocked starts a new dial generation without touching explicitClose.
func (t *Transport) connectLocked() {
	t.stopReconnectLocked()
	t.generation++
	gen := t.generation
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelDial = cancel
	t.setStateLocked(StateConnecting)
	t.wg.Add(1)
	go t.run(ctx, gen)
}

// Disconnect closes the connection with code and reason and suppresses
// reconnection until the next Connect.
func (t *Transport) Disconnect(code int, reason string) {
	t.mu.Lock()
	t.explicitClose = true
	t.redial = false
	t.stopReconnectLocked()
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	conn := t.conn
	switch {
	case conn != nil:
		t.setStateLocked(StateClosing)
	case t.state == StateConnecting:
		// the dialling goroutine observes the cancelled context and reports the close
		t.setStateLocked(StateClosing)
	default:
		t.setStateLocked(StateClosed)
	}
	t.mu.Unlock()

	if conn == nil {
		return
	}
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	t.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	t.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return
	}
	// the read loop sees the peer's close echo or times out
	conn.SetReadDeadline(time.Now().Add(closeGrace))
}

// Close disconnects and waits for the connection goroutines to exit.
func (t *Transport) Close(ctx context.Context) error {
	t.Disconnect(websocket.CloseNormalClosure, "")
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes text as a single frame. It fails when the connection is not
// open; nothing is queued.
func (t *Transport) Send(text string) error {
	t.mu.Lock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.TextMessage, []byte(text))
	t.writeMu.Unlock()
	if err != nil {
		err = fmt.Errorf("ws: send: %w", err)
		t.reportError("write", err)
		return err
	}
	return nil
}

func (t *Transport) run(ctx context.Context, gen uint64) {
	defer t.wg.Done()

	url, err := t.cfg.URL()
	if err != nil {
		t.reportError("resolve", fmt.Errorf("ws: resolve url: %w", err))
		t.finish(gen, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	conn, resp, err := t.cfg.Dialer.DialContext(ctx, url, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() == nil {
			t.reportError("dial", fmt.Errorf("ws: dial %s: %w", url, err))
		}
		t.finish(gen, CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	t.mu.Lock()
	if gen != t.generation || t.explicitClose {
		t.mu.Unlock()
		conn.Close()
		t.finish(gen, CloseEvent{Code: websocket.CloseNormalClosure})
		return
	}
	t.conn = conn
	t.cancelDial = nil
	t.setStateLocked(StateOpen)
	t.mu.Unlock()

	t.cfg.Backoff.Reset()
	t.cfg.Metrics.Add(telemetry.MetricConnectionsOpened, 1)
	lifecycle.ConnectionOpened(context.Background(), t.cfg.Publisher, t.actor, lifecycle.ConnectionOpenedPayload{URL: url}, nil)
	for _, fn := range t.openHooks.Snapshot() {
		t.invoke("open", func() { fn() })
	}

	stopPing := t.startKeepalive(conn)
	event := t.readLoop(conn)
	stopPing()
	conn.Close()
	t.finish(gen, event)
}

func (t *Transport) readLoop(conn *websocket.Conn) CloseEvent {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return CloseEvent{Code: closeErr.Code, Reason: closeErr.Text}
			}
			if t.State() != StateClosing {
				t.reportError("read", fmt.Errorf("ws: read: %w", err))
			}
			return CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
		}

		switch messageType {
		case websocket.TextMessage:
			t.deliver(string(data))
		case websocket.BinaryMessage:
			if !utf8.Valid(data) {
				t.reportError("decode", ErrInvalidUTF8)
				continue
			}
			t.deliver(string(data))
		}
	}
}

func (t *Transport) deliver(text string) {
	for _, fn := range t.messageHooks.Snapshot() {
		t.invoke("message", func() { fn(text) })
	}
}

// startKeepalive pings at the configured interval and extends the read
// deadline on every pong. A missed pong surfaces as a read timeout.
func (t *Transport) startKeepalive(conn *websocket.Conn) func() {
	interval := t.cfg.PingInterval
	if interval <= 0 {
		return func() {}
	}
	pongWait := 2 * interval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := t.cfg.Clock.Ticker(interval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				t.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				t.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// finish records the close for generation gen and arms the reconnect timer
// when the close was not requested.
func (t *Transport) finish(gen uint64, event CloseEvent) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.cancelDial = nil
	event.Explicit = t.explicitClose
	t.setStateLocked(StateClosed)
	var delay time.Duration
	attempt := 0
	if !event.Explicit {
		delay = t.cfg.Backoff.NextDelay()
		attempt = t.cfg.Backoff.Attempt()
		t.stopReconnectLocked()
		t.reconnectTimer = t.cfg.Clock.AfterFunc(delay, t.reconnect)
	}
	t.mu.Unlock()

	ctx := context.Background()
	lifecycle.ConnectionClosed(ctx, t.cfg.Publisher, t.actor, lifecycle.ConnectionClosedPayload{
		Code:     event.Code,
		Reason:   event.Reason,
		Explicit: event.Explicit,
	}, nil)
	for _, fn := range t.closeHooks.Snapshot() {
		t.invoke("close", func() { fn(event) })
	}

	t.mu.Lock()
	if t.redial && gen == t.generation && t.state == StateClosed {
		t.redial = false
		t.explicitClose = false
		t.connectLocked()
	}
	t.mu.Unlock()

	if !event.Explicit {
		t.cfg.Metrics.Add(telemetry.MetricReconnectsScheduled, 1)
		network.ReconnectScheduled(ctx, t.cfg.Publisher, t.actor, network.ReconnectPayload{
			Attempt:     attempt,
			DelayMillis: delay.Milliseconds(),
			CloseCode:   event.Code,
		}, nil)
	}
}

// reconnect runs on the backoff timer. The explicit-close check and the dial
// happen under one lock so a concurrent Disconnect cannot be undone.
func (t *Transport) reconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectTimer = nil
	if t.explicitClose || t.state != StateClosed {
		return
	}
	t.connectLocked()
}

func (t *Transport) stopReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

func (t *Transport) setStateLocked(state State) {
	t.state = state
	t.cfg.Metrics.Store(telemetry.MetricConnectionState, uint64(state))
}

func (t *Transport) reportError(op string, err error) {
	t.cfg.Metrics.Add(telemetry.MetricTransportErrors, 1)
	network.TransportError(context.Background(), t.cfg.Publisher, t.actor, network.TransportErrorPayload{Op: op, Error: err.Error()}, nil)
	for _, fn := range t.errorHooks.Snapshot() {
		t.invoke("error", func() { fn(err) })
	}
}

func (t *Transport) invoke(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.cfg.Logger.Printf("ws: %s hook panicked: %v", hook, r)
		}
	}()
	fn()
}
