package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
	"github.com/DrSkyle/codevet/pkg/engine"
	"github.com/DrSkyle/codevet/pkg/engine/events"
	"github.com/DrSkyle/codevet/pkg/engine/report"
	"github.com/DrSkyle/codevet/pkg/server"
	"github.com/DrSkyle/codevet/pkg/telemetry"
	"github.com/DrSkyle/codevet/pkg/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runOnce   bool
	runMock   bool
	runExport string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest queued repositories",
	Long: `Ingest the configured repositories.

With --once the queue is drained a single time and a summary is printed.
Without it the pipeline runs a cycle every pacing.cycle_interval, serves the
status API on server.listen and watches targets_file for new repositories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !cfg.Telemetry.Skip {
			shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, cfg.Telemetry.OtelEndpoint)
			if err != nil {
				logger.Warn("Tracing disabled", "error", err)
			} else {
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						logger.Warn("Failed to flush traces", "error", err)
					}
				}()
			}
		}

		p, err := buildPipeline(ctx, cfg, runMock, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		if runOnce {
			return runSingleCycle(ctx, cmd.OutOrStdout(), cfg, p.Engine)
		}
		return runContinuous(ctx, cfg, p.Engine)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Drain the queue once and exit")
	runCmd.Flags().BoolVar(&runMock, "mock", false, "Use the in-process oracle instead of the remote service")
	runCmd.Flags().StringVar(&runExport, "export", "", "Write the run report to a .csv, .json or .html file")
}

// forward attaches the configured event forwarders to g. The returned
// function detaches them so the pumps drain and exit.
func forward(ctx context.Context, g *errgroup.Group, cfg config.EventsConfig, eng *engine.Engine) (func(), error) {
	var subs []*events.Subscription
	attach := func(name string, h events.Handler) {
		sub := eng.Subscribe(256)
		subs = append(subs, sub)
		g.Go(func() error {
			events.Pump(ctx, sub, name, logger, h)
			return nil
		})
	}

	var closers []func()
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("Failed to drain NATS connection", "error", err)
			}
		})
		attach("nats", events.NewNATSForwarder(nc, cfg.SubjectPrefix).Handle)
	}
	if cfg.SlackWebhook != "" {
		attach("slack", events.NewSlackNotifier(cfg.SlackWebhook, cfg.SlackChannel).Handle)
	}

	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
		for _, c := range closers {
			c()
		}
	}, nil
}

func runSingleCycle(ctx context.Context, out io.Writer, cfg config.Config, eng *engine.Engine) error {
	var g errgroup.Group
	detach, err := forward(ctx, &g, cfg.Events, eng)
	if err != nil {
		return err
	}

	runs, cycleErr := eng.RunCycle(ctx)

	// Unsubscribing closes the feeds; the pumps finish what is buffered.
	detach()
	_ = g.Wait()

	if cycleErr != nil && !errors.Is(cycleErr, context.Canceled) {
		return cycleErr
	}
	fmt.Fprint(out, renderSummary(report.Summarize(runs)))

	if runExport != "" {
		if err := report.GenerateFile(runExport, runs); err != nil {
			return fmt.Errorf("export report: %w", err)
		}
		fmt.Fprintf(out, "Report written to %s\n", runExport)
	}
	return cycleErr
}

func runContinuous(ctx context.Context, cfg config.Config, eng *engine.Engine) error {
	g, gctx := errgroup.WithContext(ctx)
	detach, err := forward(gctx, g, cfg.Events, eng)
	if err != nil {
		return err
	}
	defer detach()

	g.Go(func() error { return eng.Run(gctx) })

	srv := server.New(eng, logger)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Listen) })

	if cfg.TargetsFile != "" {
		known := make(map[string]bool)
		for _, t := range cfg.Targets {
			known[t.Key()] = true
		}
		if ts, err := config.LoadTargets(cfg.TargetsFile); err == nil {
			for _, t := range ts {
				known[t.Key()] = true
			}
		}
		g.Go(func() error {
			return config.WatchTargets(gctx, cfg.TargetsFile, logger, func(ts []artifact.RepositoryTarget) {
				for _, t := range unseen(known, ts) {
					if err := eng.AddRepository(t); err != nil {
						logger.Warn("Rejected target from file", "repository", t.Key(), "error", err)
					}
				}
			})
		})
	}

	logger.Info("Pipeline running",
		slog.String("listen", cfg.Server.Listen),
		slog.Duration("cycle_interval", cfg.Pacing.CycleInterval))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// unseen returns the targets whose key is not in known and marks them known.
func unseen(known map[string]bool, ts []artifact.RepositoryTarget) []artifact.RepositoryTarget {
	var out []artifact.RepositoryTarget
	for _, t := range ts {
		if known[t.Key()] {
			continue
		}
		known[t.Key()] = true
		out = append(out, t)
	}
	return out
}
