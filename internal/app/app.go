// Package app wires the transport, client, store and observability stack
// into a running mirror.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Route-Sim/VISTA-sub000/internal/backoff"
	"github.com/Route-Sim/VISTA-sub000/internal/client"
	"github.com/Route-Sim/VISTA-sub000/internal/net/ws"
	"github.com/Route-Sim/VISTA-sub000/internal/observability"
	"github.com/Route-Sim/VISTA-sub000/internal/sim"
	"github.com/Route-Sim/VISTA-sub000/internal/store"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

// Options carries process-level collaborators that do not belong in the
// config file.
type Options struct {
	Logger telemetry.Logger
	// Stdout receives console log sinks and stdout trace spans.
	Stdout     io.Writer
	Registerer prometheus.Registerer
	Clock      clock.Clock
}

// Mirror is a fully wired replication client.
type Mirror struct {
	Config    Config
	Logger    telemetry.Logger
	Router    *logging.Router
	Transport *ws.Transport
	Client    *client.Client
	Store     *store.Store
	Counters  *observability.Counters
	Collector *observability.Collector
	Tracing   *observability.Tracing

	detachStore func()
	closeSinks  func() error
}

// Build constructs every component without connecting.
func Build(ctx context.Context, cfg Config, opts Options) (*Mirror, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	routerCfg, err := cfg.Logging.routerConfig()
	if err != nil {
		return nil, err
	}
	namedSinks, closeSinks, err := sinks.Build(routerCfg, stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to construct log sinks: %w", err)
	}
	router := logging.NewRouter(clk, routerCfg, namedSinks)

	m := &Mirror{
		Config:     cfg,
		Logger:     logger,
		Router:     router,
		Counters:   observability.NewCounters(),
		closeSinks: closeSinks,
	}
	fail := func(err error) (*Mirror, error) {
		m.shutdown(context.Background())
		return nil, err
	}

	m.Collector, err = observability.NewCollector(registerer)
	if err != nil {
		return fail(fmt.Errorf("failed to register metrics: %w", err))
	}
	metrics := observability.Fanout(m.Collector, m.Counters)

	m.Tracing, err = observability.InitTracing(ctx, cfg.Observability.Tracing, stdout, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialise tracing: %w", err))
	}

	m.Transport, err = ws.New(ws.Config{
		Name:      "simulation",
		URL:       ws.StaticURL(cfg.URL),
		Backoff:   backoff.New(cfg.Backoff, nil),
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
		Publisher: router,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to construct transport: %w", err))
	}

	m.Client, err = client.New(client.Config{
		Conn:       m.Transport,
		Clock:      clk,
		Timeout:    cfg.Request.Timeout,
		MaxPending: cfg.Request.MaxPending,
		SendRate:   cfg.Request.SendRate,
		SendBurst:  cfg.Request.SendBurst,
		Tracer:     m.Tracing.Tracer(client.TracerName),
		Logger:     logger,
		Metrics:    metrics,
		Publisher:  router,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to construct client: %w", err))
	}

	m.Store = store.New(store.Config{
		History:         cfg.Store.History,
		Strict:          cfg.Store.Strict,
		SpeedMultiplier: cfg.Store.SpeedMultiplier,
		Clock:           clk,
		Logger:          logger,
		Metrics:         metrics,
		Publisher:       router,
	})
	m.detachStore = m.Store.Attach(m.Client)
	return m, nil
}

// WaitOpen connects and blocks until the transport reports open.
func (m *Mirror) WaitOpen(ctx context.Context) error {
	opened := make(chan struct{}, 1)
	detach := m.Client.OnOpen(func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	defer detach()

	m.Client.Connect()
	if m.Transport.State() == ws.StateOpen {
		return nil
	}
	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", m.Config.URL, ctx.Err())
	}
}

// Close tears the mirror down in reverse construction order.
func (m *Mirror) Close(ctx context.Context) error {
	return m.shutdown(ctx)
}

func (m *Mirror) shutdown(ctx context.Context) error {
	var errs []error
	if m.Client != nil {
		if err := m.Client.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
	}
	if m.detachStore != nil {
		m.detachStore()
	}
	if m.Router != nil {
		if err := m.Router.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close logging router: %w", err))
		}
	}
	if m.closeSinks != nil {
		if err := m.closeSinks(); err != nil {
			errs = append(errs, fmt.Errorf("close log files: %w", err))
		}
	}
	if err := m.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}

// Run mirrors the simulation until ctx is cancelled. onCommit, when set,
// sees every committed snapshot. The metrics endpoint is served alongside
// when configured.
func Run(ctx context.Context, cfg Config, opts Options, onCommit func(*sim.Snapshot)) error {
	m, err := Build(ctx, cfg, opts)
	if err != nil {
		return err
	}
	if onCommit != nil {
		m.Store.Subscribe(onCommit)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	var srv *http.Server
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Collector.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if m.Transport.State() != ws.StateOpen {
				http.Error(w, m.Transport.State().String(), http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintln(w, "ok")
		})
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			m.Logger.Printf("metrics listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		m.Logger.Printf("mirroring %s", cfg.URL)
		m.Client.Connect()
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				m.Logger.Printf("metrics server shutdown: %v", err)
			}
		}
		if err := m.Close(shutdownCtx); err != nil {
			return err
		}
		m.Logger.Printf("mirror stopped: %s", m.Counters)
		return nil
	})

	return group.Wait()
}
