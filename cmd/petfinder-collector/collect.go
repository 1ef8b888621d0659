package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/auth"
	"github.com/Sternrassler/petfinder-collector/pkg/client"
	"github.com/Sternrassler/petfinder-collector/pkg/collector"
	"github.com/Sternrassler/petfinder-collector/pkg/config"
	"github.com/Sternrassler/petfinder-collector/pkg/metrics"
	"github.com/Sternrassler/petfinder-collector/pkg/pagination"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/petfinder"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/Sternrassler/petfinder-collector/pkg/quota"
	"github.com/Sternrassler/petfinder-collector/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errPaused = errors.New("run paused: daily quota exhausted, rerun to resume")

func (a *app) collectCmd() *cobra.Command {
	var combine bool

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect listings, resuming the stored progress",
		Long: `Collect walks every selected partition in a fixed order and skips those
already complete or failed. Records are appended to
<output-dir>/<type>/<status>/<partition>_<type>s.csv after every page.

Exit code 2 means the quota ran out and the run can be resumed later.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.collect(cmdContext(cmd), combine)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&combine, "combine", false, "Merge the partition files into one deduplicated file when the run finishes")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while collecting, e.g. :9090")
	flags.Int("daily-budget", 0, "Stop after this many requests per UTC day (0 = provider limit only)")
	flags.String("quota-backend", "", "Budget tracker: memory or redis (default memory)")
	a.bind(flags.Lookup("metrics-addr"), "metrics.addr")
	a.bind(flags.Lookup("daily-budget"), "quota.daily_budget")
	a.bind(flags.Lookup("quota-backend"), "quota.backend")

	return cmd
}

func (a *app) collect(ctx context.Context, combine bool) error {
	cfg := a.cfg
	if err := cfg.ValidateCredentials(); err != nil {
		return &exitError{code: exitAborted, err: err}
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts, err := cfg.Partitions()
	if err != nil {
		return err
	}
	runKey := cfg.RunKey()

	store, err := progress.Open(ctx, cfg.ProgressOptions(a.logger))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := printStatus(ctx, a.stdout, store, runKey, parts); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, a.logger); err != nil {
				a.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	tracker, closeTracker, err := newTracker(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeTracker()

	driver, err := newDriver(cfg, tracker, store, a.logger)
	if err != nil {
		return err
	}

	res, runErr := driver.Run(ctx, runKey, parts)

	fmt.Fprintln(a.stdout)
	if err := printStatus(context.Background(), a.stdout, store, runKey, parts); err != nil {
		a.logger.Warn().Err(err).Msg("Could not load progress for the summary")
	}
	printResult(a.stdout, res)
	if err := printQuota(context.Background(), a.stdout, tracker, time.Now()); err != nil {
		a.logger.Warn().Err(err).Msg("Could not read quota state")
	}

	if runErr != nil {
		return &exitError{code: exitAborted, err: runErr}
	}
	if res.Status == collector.RunPaused {
		return &exitError{code: exitPaused, err: errPaused}
	}

	if combine {
		stats, err := sink.Combine(cfg.OutputDir, runKey, a.logger)
		if err != nil {
			return err
		}
		printCombine(a.stdout, stats)
	}
	return nil
}

// newDriver wires credential provider, executor, pagination and sink.
func newDriver(cfg *config.Config, tracker quota.Tracker, store progress.Store, logger zerolog.Logger) (*collector.Driver, error) {
	provider, err := auth.NewProvider(auth.Config{
		TokenURL:     cfg.API.TokenURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		SafetyMargin: cfg.API.TokenSafetyMargin,
	})
	if err != nil {
		return nil, err
	}

	clientCfg := client.DefaultConfig(cfg.API.BaseURL, provider)
	clientCfg.Quota = tracker
	clientCfg.RequestInterval = cfg.API.RequestInterval
	clientCfg.Timeout = cfg.API.Timeout
	clientCfg.Retry = client.RetryPolicy{Delays: cfg.API.RetryDelays}
	clientCfg.UserAgent = cfg.API.UserAgent
	apiClient, err := client.New(clientCfg)
	if err != nil {
		return nil, err
	}

	machine, err := pagination.NewMachine(pagination.Config{
		Executor:  apiClient,
		Codec:     petfinder.NewCodec(),
		Flattener: petfinder.NewFlattener(),
		PageSize:  cfg.API.PageSize,
		Logger:    &logger,
	})
	if err != nil {
		return nil, err
	}

	out, err := sink.NewCSVSink(cfg.OutputDir, petfinder.Columns, logger)
	if err != nil {
		return nil, err
	}

	return collector.New(collector.Options{
		Machine: machine,
		Store:   store,
		Sink:    out,
		Logger:  &logger,
	})
}

// newTracker builds the daily budget tracker. The Redis tracker shares the
// budget between processes using the same API key.
func newTracker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (quota.Tracker, func(), error) {
	if cfg.QuotaBackend != config.QuotaRedis {
		return quota.NewMemoryTracker(cfg.DailyBudget, logger), func() {}, nil
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return quota.NewRedisTracker(rc, cfg.DailyBudget, logger), func() { rc.Close() }, nil
}

func printStatus(ctx context.Context, w io.Writer, store progress.Store, runKey string, parts []partition.Partition) error {
	loaded, err := store.Load(ctx, runKey)
	if err != nil {
		return err
	}
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.ID
	}
	return progress.Summarize(runKey, ids, loaded).Write(w)
}

func printResult(w io.Writer, res *collector.Result) {
	fmt.Fprintf(w, "\nRun %s (%s): %s\n", res.State.RunKey, res.State.RunID, res.Status)
	fmt.Fprintf(w, "  requests: %d, records: %d, duration: %s\n", res.Requests, res.Records, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  completed: %d, failed: %d, skipped: %d\n", len(res.Completed), len(res.Failed), len(res.Skipped))
	for _, id := range res.Failed {
		fmt.Fprintf(w, "  failed %s: %v\n", id, res.Failures[id])
	}
	if res.PausedAt != "" {
		fmt.Fprintf(w, "  paused at %s (cursor %s)\n", res.PausedAt, res.State.Cursor)
	}
}

// printQuota reports the daily budget and, after a provider quota signal,
// when requests may resume.
func printQuota(ctx context.Context, w io.Writer, tracker quota.Tracker, now time.Time) error {
	st, err := tracker.State(ctx)
	if err != nil {
		return err
	}

	remaining := "unlimited"
	if n := st.Remaining(); n >= 0 {
		remaining = fmt.Sprintf("%d of %d", n, st.Budget)
	}
	fmt.Fprintf(w, "Quota: %d used today, %s remaining, resets %s (in %s)\n",
		st.Used, remaining, st.ResetAt.UTC().Format(time.RFC3339), st.TimeUntilReset(now).Round(time.Minute))

	if st.Exhausted(now) {
		until := st.ResetAt
		if now.Before(st.ExhaustedUntil) {
			until = st.ExhaustedUntil
		}
		fmt.Fprintf(w, "  exhausted until %s\n", until.UTC().Format(time.RFC3339))
	}
	return nil
}

func printCombine(w io.Writer, stats *sink.CombineStats) {
	fmt.Fprintf(w, "Combined %d files into %s: %d records, %d duplicates removed\n",
		stats.Files, stats.Output, stats.Rows, stats.Duplicates)
}
