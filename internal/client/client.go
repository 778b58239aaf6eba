// Package client correlates actions sent over the transport with the signals
// that answer them and fans unclaimed signals out to subscribers.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/net/ws"
	"github.com/Route-Sim/VISTA-sub000/internal/request"
	"github.com/Route-Sim/VISTA-sub000/internal/subscribers"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/network"
)

// DefaultTimeout bounds SendAction when neither the call nor the config sets one.
const DefaultTimeout = 10 * time.Second

// TracerName identifies spans created by the client.
const TracerName = "vista/client"

// Conn is the transport surface the client depends on. *ws.Transport
// satisfies it.
type Conn interface {
	Connect()
	Disconnect(code int, reason string)
	Close(ctx context.Context) error
	Send(text string) error
	OnOpen(fn func()) func()
	OnMessage(fn func(string)) func()
	OnClose(fn func(ws.CloseEvent)) func()
}

var _ Conn = (*ws.Transport)(nil)

// Handler receives decoded inbound signals.
type Handler = func(msg proto.Inbound)

// Config wires the client dependencies.
type Config struct {
	Conn  Conn
	Clock clock.Clock
	// Timeout bounds SendAction. Zero selects DefaultTimeout; negative
	// disables the timer.
	Timeout    time.Duration
	MaxPending int
	// SendRate paces SendAction in actions per second. Zero disables pacing.
	SendRate  float64
	SendBurst int
	Tracer    trace.Tracer
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	// NewRequestID overrides the uuid generator.
	NewRequestID func() proto.RequestID
}

// SendOptions tunes a single SendAction call.
type SendOptions struct {
	RequestID proto.RequestID
	// Timeout overrides the client default. Negative disables the timer.
	Timeout time.Duration
	// Match replaces the default matcher, which accepts the expected signal
	// only when it echoes the request id. Error signals carrying the same
	// request id still settle the call.
	Match request.Predicate
}

// Client composes a transport, a request tracker and the protocol codec.
type Client struct {
	conn      Conn
	tracker   *request.Tracker
	limiter   *rate.Limiter
	timeout   time.Duration
	tracer    trace.Tracer
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
	newID     func() proto.RequestID

	mu       sync.Mutex
	bySignal map[string]*subscribers.Set[Handler]
	any      subscribers.Set[Handler]
	taps     subscribers.Set[Handler]
	opens    subscribers.Set[func()]
	detach   []func()
	closed   bool
}

// New constructs a client and attaches it to cfg.Conn.
func New(cfg Config) (*Client, error) {
	if cfg.Conn == nil {
		return nil, errors.New("client: conn is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(TracerName)
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
	if cfg.NewRequestID == nil {
		cfg.NewRequestID = func() proto.RequestID { return proto.RequestID(uuid.NewString()) }
	}

	c := &Client{
		conn: cfg.Conn,
		tracker: request.NewTracker(request.Config{
			Clock:      cfg.Clock,
			MaxPending: cfg.MaxPending,
			Logger:     cfg.Logger,
			Metrics:    cfg.Metrics,
		}),
		timeout:   cfg.Timeout,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
		newID:     cfg.NewRequestID,
		bySignal:  make(map[string]*subscribers.Set[Handler]),
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}

	c.detach = append(c.detach,
		cfg.Conn.OnMessage(c.handleMessage),
		cfg.Conn.OnClose(c.handleClose),
		cfg.Conn.OnOpen(c.handleOpen),
	)
	return c, nil
}

// Connect starts the transport.
func (c *Client) Connect() {
	c.conn.Connect()
}

// Close shuts the transport down and rejects every pending request.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()

	err := c.conn.Close(ctx)
	for _, fn := range detach {
		fn()
	}
	c.tracker.CancelAll(request.ErrDisconnected)
	return err
}

// Pending reports the number of in-flight requests.
func (c *Client) Pending() int {
	return c.tracker.Len()
}

// SendAction encodes action, sends it and blocks until the expected signal,
// an error signal for the same request, the timeout, ctx cancellation or a
// disconnect. An error signal is returned as *proto.ServerError alongside
// the raw message.
func (c *Client) SendAction(ctx context.Context, action string, params proto.Payload, opts SendOptions) (proto.Inbound, error) {
	expected, ok := proto.ExpectedSignal(action)
	if !ok {
		return proto.Inbound{}, fmt.Errorf("%w: %q", proto.ErrUnknownAction, action)
	}
	id := opts.RequestID
	if id == "" {
		id = c.newID()
	}

	ctx, span := c.tracer.Start(ctx, "vista.action "+action, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("vista.action", action),
		attribute.String("vista.request_id", id.String()),
		attribute.String("vista.expected_signal", expected),
	))
	defer span.End()

	msg, err := c.sendAction(ctx, action, expected, params, id, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		network.RequestFailed(ctx, c.publisher, id.String(), network.RequestFailedPayload{
			Action:         action,
			ExpectedSignal: expected,
			Reason:         err.Error(),
		}, nil)
		return msg, err
	}
	span.SetAttributes(attribute.String("vista.signal", msg.Signal))
	return msg, nil
}

func (c *Client) sendAction(ctx context.Context, action, expected string, params proto.Payload, id proto.RequestID, opts SendOptions) (proto.Inbound, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return proto.Inbound{}, fmt.Errorf("%w: %w", request.ErrCanceled, err)
		}
	}

	frame, err := proto.EncodeAction(action, params, id)
	if err != nil {
		return proto.Inbound{}, err
	}

	match := opts.Match
	if match == nil {
		match = func(msg proto.Inbound) bool {
			return msg.Signal == expected && msg.RequestID == id
		}
	}
	predicate := func(msg proto.Inbound) bool {
		if msg.Signal == proto.SignalError {
			return msg.RequestID == id
		}
		return match(msg)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	pending, err := c.tracker.WaitFor(predicate, request.Options{Timeout: timeout, RequestID: id})
	if err != nil {
		return proto.Inbound{}, err
	}

	if err := c.conn.Send(string(frame)); err != nil {
		pending.Cancel(err)
		return proto.Inbound{}, fmt.Errorf("client: send %s: %w", action, err)
	}

	msg, err := pending.Wait(ctx)
	if err != nil {
		return msg, err
	}
	if serverErr, ok := proto.AsServerError(msg); ok {
		return msg, serverErr
	}
	return msg, nil
}

// WaitFor blocks until an inbound signal satisfies predicate. It competes
// with SendAction calls for first refusal in registration order.
func (c *Client) WaitFor(ctx context.Context, predicate request.Predicate, opts request.Options) (proto.Inbound, error) {
	pending, err := c.tracker.WaitFor(predicate, opts)
	if err != nil {
		return proto.Inbound{}, err
	}
	return pending.Wait(ctx)
}

// On subscribes handler to unclaimed signals named signal.
func (c *Client) On(signal string, handler Handler) func() {
	c.mu.Lock()
	set, ok := c.bySignal[signal]
	if !ok {
		set = &subscribers.Set[Handler]{}
		c.bySignal[signal] = set
	}
	c.mu.Unlock()
	return set.Add(handler)
}

// Off detaches every handler subscribed to signal.
func (c *Client) Off(signal string) {
	c.mu.Lock()
	delete(c.bySignal, signal)
	c.mu.Unlock()
}

// OnAny subscribes handler to every unclaimed signal.
func (c *Client) OnAny(handler Handler) func() {
	return c.any.Add(handler)
}

// Observe subscribes handler to every decoded signal, including those that
// resolved a pending request. Observers run before the tracker.
func (c *Client) Observe(handler Handler) func() {
	return c.taps.Add(handler)
}

// OnOpen subscribes fn to transport opens.
func (c *Client) OnOpen(fn func()) func() {
	return c.opens.Add(fn)
}

func (c *Client) handleMessage(text string) {
	msg, err := proto.DecodeInbound([]byte(text))
	if err != nil {
		c.metrics.Add(telemetry.MetricFramesDropped, 1)
		network.FrameDropped(context.Background(), c.publisher, logging.EntityRef{Kind: logging.EntityKindConnection}, network.FrameDroppedPayload{
			Reason: err.Error(),
			Bytes:  len(text),
		}, nil)
		return
	}
	c.metrics.Add(telemetry.MetricFramesReceived, 1)

	for _, tap := range c.taps.Snapshot() {
		c.invoke(msg, tap)
	}
	if c.tracker.HandleSignal(msg) {
		return
	}

	c.mu.Lock()
	set := c.bySignal[msg.Signal]
	c.mu.Unlock()
	if set != nil {
		for _, handler := range set.Snapshot() {
			c.invoke(msg, handler)
		}
	}
	for _, handler := range c.any.Snapshot() {
		c.invoke(msg, handler)
	}
}

func (c *Client) handleClose(ws.CloseEvent) {
	c.tracker.CancelAll(request.ErrDisconnected)
}

func (c *Client) handleOpen() {
	for _, fn := range c.opens.Snapshot() {
		c.invoke(proto.Inbound{Signal: "open"}, func(proto.Inbound) { fn() })
	}
}

func (c *Client) invoke(msg proto.Inbound, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("client: handler for %s panicked: %v", msg.Signal, r)
		}
	}()
	handler(msg)
}
