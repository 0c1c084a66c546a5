package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/habitfeed/internal/cache"
	"github.com/roach88/habitfeed/internal/engine"
	"github.com/roach88/habitfeed/internal/gateway"
	"github.com/roach88/habitfeed/internal/harness"
	"github.com/roach88/habitfeed/internal/store"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	MemoryCache bool // ignore cache.path and keep pages in memory
	Metrics     bool // print the engine counters after the report
}

// SimulateResult is the JSON payload of simulate: the report, plus the
// engine counters when --metrics is set.
type SimulateResult struct {
	*harness.Report
	Metrics []CounterSample `json:"metrics,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a feed scenario against the in-memory backend",
		Long: `Run a scripted session against a deterministic in-memory backend and
print the resulting views.

The scenario seeds the backend, then drives the engine step by step:
refreshes, pagination, reactions, likes, comments, new posts and habit
completions, with injected gateway failures. Checks in the scenario are
evaluated as it runs.

Configuration applies where the scenario is silent: viewer.user_id and
feed.page_size fill in a missing viewer and page size, feed.cache_ttl sets
the page lifetime, cache.path stores pages in SQLite and
gateway.rate_per_second throttles gateway calls.

--metrics records cache lookups, gateway calls, rollbacks and discarded
responses in a Prometheus registry and prints the counters after the
report.

Exit codes:
  0 - Every check held
  1 - One or more checks failed
  2 - Command error (unreadable or invalid scenario, etc.)

Examples:
  habitfeed simulate ./scenarios/like_and_paginate.yaml
  habitfeed simulate ./scenarios/habit_day.yaml --format json
  habitfeed simulate ./scenarios/sign_out.yaml --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.MemoryCache, "memory-cache", false, "keep pages in memory even when cache.path is set")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print engine counters after the report")

	return cmd
}

func runSimulate(ctx context.Context, opts *SimulateOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	cfg := opts.Config
	runOpts := []harness.Option{harness.WithLogger(opts.Logger(cmd.ErrOrStderr()))}
	if cfg != nil {
		if scenario.Viewer.UserID == "" {
			scenario.Viewer.UserID = cfg.Viewer.UserID
			scenario.Viewer.AvatarURL = cfg.Viewer.AvatarURL
		}
		if scenario.PageSize == 0 {
			scenario.PageSize = cfg.Feed.PageSize
		}
		runOpts = append(runOpts, harness.WithCacheTTL(cfg.Feed.CacheTTL))

		if cfg.Gateway.RatePerSecond > 0 {
			rate, burst := cfg.Gateway.RatePerSecond, cfg.Gateway.Burst
			runOpts = append(runOpts, harness.WithGateway(func(g gateway.Gateway) gateway.Gateway {
				return gateway.NewThrottle(g, rate, burst)
			}))
		}

		if cfg.Cache.Path != "" && !opts.MemoryCache {
			st, err := store.Open(cfg.Cache.Path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open cache", err)
			}
			defer st.Close()
			formatter.VerboseLog("caching pages in %s", cfg.Cache.Path)
			runOpts = append(runOpts, harness.WithCacheBackend(cache.NewSQLite(st)))
		}
	}

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		runOpts = append(runOpts, harness.WithMetrics(engine.NewMetrics(reg)))
	}

	formatter.VerboseLog("running scenario %s (%d steps)", scenario.Name, len(scenario.Steps))
	report, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario aborted", err)
	}

	result := SimulateResult{Report: report}
	if reg != nil {
		if result.Metrics, err = gatherCounters(reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to read metrics", err)
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), report.Text())
		if reg != nil {
			writeCounters(cmd.OutOrStdout(), result.Metrics)
		}
	}

	if !report.Passed() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d check(s) failed", len(report.Failures)))
	}
	return nil
}
