// Package request correlates outbound actions with the inbound signals that
// answer them.
package request

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
)

var (
	// ErrTimeout is returned when no matching signal arrived before the deadline.
	ErrTimeout = errors.New("request: timed out")
	// ErrCanceled is returned when the caller abandoned the request.
	ErrCanceled = errors.New("request: canceled")
	// ErrDisconnected is returned when the transport closed with the request in flight.
	ErrDisconnected = errors.New("request: disconnected")
	// ErrTooManyPending is returned when the tracker is at its MaxPending bound.
	ErrTooManyPending = errors.New("request: too many pending requests")
)

// Predicate reports whether msg answers a pending request.
type Predicate func(msg proto.Inbound) bool

// Options controls a single wait.
type Options struct {
	// Timeout bounds the wait. Zero or negative disables the timer.
	Timeout time.Duration
	// RequestID, when set, short-circuits any message carrying a different id.
	RequestID proto.RequestID
}

// Config wires the tracker dependencies.
type Config struct {
	Clock      clock.Clock
	MaxPending int
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
}

// Tracker holds pending requests in registration order.
type Tracker struct {
	mu         sync.Mutex
	clock      clock.Clock
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	maxPending int
	pending    []*Pending
}

// NewTracker constructs a tracker. Missing dependencies fall back to the
// wall clock and no-op telemetry.
func NewTracker(cfg Config) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.MaxPending < 0 {
		cfg.MaxPending = 0
	}
	return &Tracker{
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		maxPending: cfg.MaxPending,
	}
}

// Pending is a registered wait. It settles exactly once.
type Pending struct {
	tracker   *Tracker
	predicate Predicate
	requestID proto.RequestID
	started   time.Time

	// guarded by tracker.mu
	timer   *clock.Timer
	settled bool

	done chan struct{}
	msg  proto.Inbound
	err  error
}

// WaitFor registers predicate and returns the pending handle.
func (t *Tracker) WaitFor(predicate Predicate, opts Options) (*Pending, error) {
	if predicate == nil {
		return nil, errors.New("request: nil predicate")
	}
	p := &Pending{
		tracker:   t,
		predicate: predicate,
		requestID: opts.RequestID,
		started:   t.clock.Now(),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	if t.maxPending > 0 && len(t.pending) >= t.maxPending {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManyPending, t.maxPending)
	}
	t.pending = append(t.pending, p)
	if opts.Timeout > 0 {
		timeout := opts.Timeout
		p.timer = t.clock.AfterFunc(timeout, func() {
			t.settle(p, proto.Inbound{}, fmt.Errorf("%w after %s", ErrTimeout, timeout))
		})
	}
	count := len(t.pending)
	t.mu.Unlock()

	t.metrics.Store(telemetry.MetricPendingRequests, uint64(count))
	return p, nil
}

// HandleSignal offers msg to every pending request in registration order.
// Each request whose predicate matches is resolved with msg. It reports
// whether any request was resolved.
func (t *Tracker) HandleSignal(msg proto.Inbound) bool {
	t.mu.Lock()
	candidates := make([]*Pending, len(t.pending))
	copy(candidates, t.pending)
	t.mu.Unlock()

	handled := false
	for _, p := range candidates {
		if p.requestID != "" && msg.RequestID != "" && p.requestID != msg.RequestID {
			continue
		}
		if !t.evaluate(p, msg) {
			continue
		}
		if t.settle(p, msg, nil) {
			handled = true
		}
	}
	return handled
}

func (t *Tracker) evaluate(p *Pending, msg proto.Inbound) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("request: predicate for %q panicked on %s: %v", p.requestID, msg.Signal, r)
			matched = false
		}
	}()
	return p.predicate(msg)
}

// CancelAll rejects every pending request with reason.
func (t *Tracker) CancelAll(reason error) int {
	if reason == nil {
		reason = ErrCanceled
	}
	t.mu.Lock()
	victims := make([]*Pending, len(t.pending))
	copy(victims, t.pending)
	t.mu.Unlock()

	count := 0
	for _, p := range victims {
		if t.settle(p, proto.Inbound{}, reason) {
			count++
		}
	}
	return count
}

// Len reports the number of unsettled requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) settle(p *Pending, msg proto.Inbound, err error) bool {
	t.mu.Lock()
	if p.settled {
		t.mu.Unlock()
		return false
	}
	p.settled = true
	for i, candidate := range t.pending {
		if candidate == p {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
	timer := p.timer
	count := len(t.pending)
	p.msg = msg
	p.err = err
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	close(p.done)

	t.metrics.Store(telemetry.MetricPendingRequests, uint64(count))
	t.metrics.Add(outcomeMetric(err), 1)
	if err == nil {
		t.metrics.Observe(telemetry.MetricRequestLatency, t.clock.Since(p.started).Seconds())
	}
	return true
}

func outcomeMetric(err error) string {
	switch {
	case err == nil:
		return telemetry.MetricRequestsResolved
	case errors.Is(err, ErrTimeout):
		return telemetry.MetricRequestsTimedOut
	case errors.Is(err, ErrCanceled):
		return telemetry.MetricRequestsCanceled
	default:
		return telemetry.MetricRequestsRejected
	}
}

// RequestID returns the id the request was bound to, if any.
func (p *Pending) RequestID() proto.RequestID {
	return p.requestID
}

// Done is closed once the request settles.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (p *Pending) Result() (proto.Inbound, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	default:
		return proto.Inbound{}, errors.New("request: still pending")
	}
}

// Cancel rejects the request with err wrapped in ErrCanceled. It reports
// whether this call settled the request.
func (p *Pending) Cancel(err error) bool {
	if err == nil {
		err = ErrCanceled
	} else if !errors.Is(err, ErrCanceled) {
		err = fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return p.tracker.settle(p, proto.Inbound{}, err)
}

// Wait blocks until the request settles or ctx is done. Context
// cancellation cancels the request.
func (p *Pending) Wait(ctx context.Context) (proto.Inbound, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.Cancel(ctx.Err())
		<-p.done
	}
	return p.msg, p.err
}
