package request

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
)

func signal(name string, id proto.RequestID) proto.Inbound {
	return proto.Inbound{Signal: name, RequestID: id}
}

func awaitDone(t *testing.T, p *Pending) (proto.Inbound, error) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("pending request %q never settled", p.RequestID())
	}
	return p.Result()
}

func bySignal(name string) Predicate {
	return func(msg proto.Inbound) bool { return msg.Signal == name }
}

func TestHandleSignalResolvesMatchingRequest(t *testing.T) {
	tracker := NewTracker(Config{Clock: clock.NewMock()})
	p, err := tracker.WaitFor(bySignal(proto.SignalSimulationStarted), Options{RequestID: "r1"})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}

	if tracker.HandleSignal(signal(proto.SignalTickStart, "")) {
		t.Fatalf("unrelated signal must not resolve the request")
	}
	if !tracker.HandleSignal(signal(proto.SignalSimulationStarted, "r1")) {
		t.Fatalf("expected matching signal to resolve the request")
	}

	msg, err := awaitDone(t, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.RequestID != "r1" {
		t.Fatalf("expected request id r1, got %q", msg.RequestID)
	}
	if tracker.Len() != 0 {
		t.Fatalf("expected no pending requests, got %d", tracker.Len())
	}
}

func TestRequestIDMismatchShortCircuits(t *testing.T) {
	tracker := NewTracker(Config{Clock: clock.NewMock()})
	evaluated := 0
	p, err := tracker.WaitFor(func(proto.Inbound) bool {
		evaluated++
		return true
	}, Options{RequestID: "r1"})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}

	if tracker.HandleSignal(signal(proto.SignalSimulationStarted, "r2")) {
		t.Fatalf("message for another request must not resolve")
	}
	if evaluated != 0 {
		t.Fatalf("predicate must not run on id mismatch, ran %d times", evaluated)
	}

	// A message without an id still reaches the predicate.
	if !tracker.HandleSignal(signal(proto.SignalSimulationStarted, "")) {
		t.Fatalf("expected id-less message to be evaluated")
	}
	if _, err := awaitDone(t, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeoutRejectsRequest(t *testing.T) {
	mock := clock.NewMock()
	tracker := NewTracker(Config{Clock: mock})
	p, err := tracker.WaitFor(bySignal(proto.SignalSimulationStarted), Options{Timeout: 100 * time.Millisecond, RequestID: "r1"})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}

	mock.Add(99 * time.Millisecond)
	select {
	case <-p.Done():
		t.Fatalf("request settled before its deadline")
	default:
	}

	mock.Add(time.Millisecond)
	_, err = awaitDone(t, p)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	if tracker.HandleSignal(signal(proto.SignalSimulationStarted, "r1")) {
		t.Fatalf("late signal must not resolve a timed out request")
	}
	if _, err := p.Result(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("outcome changed after settling: %v", err)
	}
}

func TestResolveStopsTimer(t *testing.T) {
	mock := clock.NewMock()
	tracker := NewTracker(Config{Clock: mock})
	p, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}
	tracker.HandleSignal(signal(proto.SignalTickEnd, ""))
	mock.Add(time.Second)

	if _, err := awaitDone(t, p); err != nil {
		t.Fatalf("expected resolution to win, got %v", err)
	}
}

func TestZeroTimeoutNeverFires(t *testing.T) {
	mock := clock.NewMock()
	tracker := NewTracker(Config{Clock: mock})
	p, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}
	mock.Add(time.Hour)
	select {
	case <-p.Done():
		t.Fatalf("request without timeout must stay pending")
	default:
	}
	if tracker.Len() != 1 {
		t.Fatalf("expected one pending request, got %d", tracker.Len())
	}
}

func TestCancelAllRejectsEveryRequest(t *testing.T) {
	tracker := NewTracker(Config{Clock: clock.NewMock()})
	var pending []*Pending
	for i := 0; i < 3; i++ {
		p, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{})
		if err != nil {
			t.Fatalf("wait for: %v", err)
		}
		pending = append(pending, p)
	}

	if n := tracker.CancelAll(ErrDisconnected); n != 3 {
		t.Fatalf("expected 3 cancellations, got %d", n)
	}
	for i, p := range pending {
		if _, err := awaitDone(t, p); !errors.Is(err, ErrDisconnected) {
			t.Fatalf("request %d: expected disconnect, got %v", i, err)
		}
	}
	if tracker.CancelAll(ErrDisconnected) != 0 {
		t.Fatalf("second cancel must be a no-op")
	}
}

func TestPredicatesEvaluatedInRegistrationOrder(t *testing.T) {
	tracker := NewTracker(Config{Clock: clock.NewMock()})
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if _, err := tracker.WaitFor(func(proto.Inbound) bool {
			order = append(order, i)
			return false
		}, Options{}); err != nil {
			t.Fatalf("wait for: %v", err)
		}
	}
	tracker.HandleSignal(signal(proto.SignalTickStart, ""))
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("unexpected evaluation order %v", order)
	}
}

func TestPanickingPredicateIsNonMatch(t *testing.T) {
	var logged []string
	tracker := NewTracker(Config{
		Clock: clock.NewMock(),
		Logger: telemetry.LoggerFunc(func(format string, args ...any) {
			logged = append(logged, format)
		}),
	})
	bad, err := tracker.WaitFor(func(proto.Inbound) bool { panic("boom") }, Options{})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}
	good, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}

	if !tracker.HandleSignal(signal(proto.SignalTickEnd, "")) {
		t.Fatalf("expected healthy predicate to resolve")
	}
	if _, err := awaitDone(t, good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-bad.Done():
		t.Fatalf("panicking predicate must not settle its request")
	default:
	}
	if len(logged) != 1 {
		t.Fatalf("expected one log line for the panic, got %d", len(logged))
	}
}

func TestMaxPending(t *testing.T) {
	tracker := NewTracker(Config{Clock: clock.NewMock(), MaxPending: 1})
	if _, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{}); err != nil {
		t.Fatalf("wait for: %v", err)
	}
	if _, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{}); !errors.Is(err, ErrTooManyPending) {
		t.Fatalf("expected ErrTooManyPending, got %v", err)
	}
	tracker.HandleSignal(signal(proto.SignalTickEnd, ""))
	if _, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{}); err != nil {
		t.Fatalf("expected capacity after settling, got %v", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	tracker := NewTracker(Config{Clock: clock.NewMock()})
	p, err := tracker.WaitFor(bySignal(proto.SignalTickEnd), Options{})
	if err != nil {
		t.Fatalf("wait for: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Wait(ctx)
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error wrapping context.Canceled, got %v", err)
	}
	if tracker.Len() != 0 {
		t.Fatalf("canceled request must leave the tracker")
	}
	if p.Cancel(nil) {
		t.Fatalf("second cancel must report no-op")
	}
}
