package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Route-Sim/VISTA-sub000/internal/app"
	"github.com/Route-Sim/VISTA-sub000/internal/client"
	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/sim"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
)

type rootOptions struct {
	configPath string
	url        string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "mirror",
		Short: "Headless mirror of a VISTA logistics simulation",
		Long: `mirror connects to a running simulation over websocket, replicates its
world into a bounded snapshot history and reports every committed tick.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.url, "url", "", "simulation websocket URL (overrides config)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug events")

	root.AddCommand(newWatchCmd(opts), newSendCmd(opts), newActionsCmd())
	return root
}

func (o *rootOptions) load(cmd *cobra.Command) (app.Config, telemetry.Logger, error) {
	logger := telemetry.WrapLogger(log.New(cmd.ErrOrStderr(), "[mirror] ", log.LstdFlags))
	cfg, err := app.LoadConfig(o.configPath, logger)
	if err != nil {
		return app.Config{}, nil, err
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.verbose {
		cfg.Logging.MinSeverity = "debug"
	}
	return cfg, logger, cfg.Validate()
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		metricsAddr string
		strict      bool
		history     int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror the simulation and print every committed snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Observability.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("strict") {
				cfg.Store.Strict = strict
			}
			if cmd.Flags().Changed("history") {
				cfg.Store.History = history
			}
			out := cmd.OutOrStdout()
			return app.Run(cmd.Context(), cfg, app.Options{Logger: logger, Stdout: out}, func(snap *sim.Snapshot) {
				printCommit(out, snap)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject updates for unknown entities")
	cmd.Flags().IntVar(&history, "history", 0, "number of snapshots to retain")
	return cmd
}

func printCommit(w io.Writer, snap *sim.Snapshot) {
	counts := snap.Counts()
	clock := snap.Clock()
	fmt.Fprintf(w, "tick=%d t=%dms topology=%d sim=%.1fs nodes=%d edges=%d buildings=%d agents=%d packages=%d\n",
		snap.Tick(), snap.TimeMs(), snap.Topology(), clock.SimSeconds,
		counts.Nodes, counts.Edges, counts.Buildings, counts.Agents, counts.Packages)
}

func newSendCmd(root *rootOptions) *cobra.Command {
	var (
		timeout   time.Duration
		requestID string
	)
	cmd := &cobra.Command{
		Use:   "send <action> [json params]",
		Short: "Send one action and print the correlated response",
		Example: `  mirror send simulation.start '{"tick_rate":10}'
  mirror send agent.describe '{"agent_id":"truck-1"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args)
			if err != nil {
				return err
			}
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			cfg.Logging.Sinks = []string{}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			m, err := app.Build(ctx, cfg, app.Options{Logger: logger, Stdout: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer m.Close(context.Background())

			if err := m.WaitOpen(ctx); err != nil {
				return err
			}
			msg, err := m.Client.SendAction(ctx, args[0], params, client.SendOptions{
				RequestID: proto.RequestID(requestID),
				Timeout:   timeout,
			})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), msg)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the response")
	cmd.Flags().StringVar(&requestID, "request-id", "", "request id to use instead of a generated one")
	return cmd
}

// parseParams decodes the optional JSON argument into the action's
// registered params type and validates it before any connection is made.
func parseParams(args []string) (proto.Payload, error) {
	params, ok := proto.NewParams(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: %q (see `mirror actions`)", proto.ErrUnknownAction, args[0])
	}
	if len(args) > 1 && args[1] != "" {
		if err := json.Unmarshal([]byte(args[1]), params); err != nil {
			return nil, fmt.Errorf("params for %s: %w", args[0], err)
		}
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", proto.ErrInvalidPayload, args[0], err)
	}
	return params, nil
}

func printResponse(w io.Writer, msg proto.Inbound) error {
	out := struct {
		Signal    string          `json:"signal"`
		RequestID string          `json:"request_id,omitempty"`
		Data      json.RawMessage `json:"data,omitempty"`
	}{Signal: msg.Signal, RequestID: msg.RequestID.String(), Data: msg.Raw}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the actions the simulation understands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actions := proto.Actions()
			sort.Strings(actions)
			for _, action := range actions {
				signal, _ := proto.ExpectedSignal(action)
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s -> %s\n", action, signal)
			}
			return nil
		},
	}
}
