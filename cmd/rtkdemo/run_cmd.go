package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Swind/go-rtkernel/core"
	rtkprom "github.com/Swind/go-rtkernel/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runOptions are the flags of the run command.
type runOptions struct {
	Ticks          uint64
	TickPeriod     time.Duration
	ReportInterval time.Duration
	MetricsAddr    string
	ShutdownWait   time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo until interrupted or the tick limit is reached",
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.TickPeriod == 0 {
				if opts.TickPeriod, err = fc.TickDuration(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDemo(ctx, fc, opts, logger, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Uint64Var(&opts.Ticks, "ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.TickPeriod, "tick", 0, "Tick period (overrides tick_period from the config file)")
	cmd.Flags().DurationVar(&opts.ReportInterval, "report", time.Second, "Counter report interval (0 disables periodic reports)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().DurationVar(&opts.ShutdownWait, "shutdown-timeout", 5*time.Second, "How long to wait for threads on shutdown")

	return cmd
}

// runDemo defines and starts the demo system, drives its clock and reports
// counters until ctx is done or the tick limit is reached.
func runDemo(ctx context.Context, fc *core.FileConfig, opts runOptions, log *zap.Logger, out io.Writer) error {
	if opts.TickPeriod <= 0 {
		return fmt.Errorf("tick period %v: %w", opts.TickPeriod, core.ErrInvalidArgument)
	}
	if log == nil {
		log = zap.NewNop()
	}

	registry := prom.NewRegistry()
	exporter, err := rtkprom.NewMetricsExporter("rtkernel", registry, rtkprom.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("metrics exporter: %w", err)
	}
	poller, err := rtkprom.NewSnapshotPoller(registry, opts.TickPeriod*10)
	if err != nil {
		return fmt.Errorf("snapshot poller: %w", err)
	}

	cfg := core.DefaultConfig()
	fc.Apply(cfg)
	cfg.Logger = core.NewZapLogger(log)
	cfg.Metrics = exporter

	k := core.New(cfg)
	d := &demo{}
	if err := d.define(k); err != nil {
		_ = k.Shutdown(context.Background())
		return fmt.Errorf("define demo system: %w", err)
	}
	if err := k.Start(); err != nil {
		return err
	}
	log.Info("demo started",
		zap.String("kernel", k.ID()),
		zap.Duration("tick", opts.TickPeriod),
		zap.Uint64("tick_limit", opts.Ticks))

	poller.AddKernel(k.ID(), k)
	poller.AddPool(d.pool.Name(), d.pool)
	poller.Start(ctx)
	defer poller.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		ticker := time.NewTicker(opts.TickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				k.Tick()
				if opts.Ticks > 0 && k.Ticks() >= opts.Ticks {
					cancel()
					return nil
				}
			}
		}
	})

	if opts.ReportInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.ReportInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					fmt.Fprintln(out, d.report(k))
				}
			}
		})
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", opts.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownWait)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()

	final := d.report(k)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), opts.ShutdownWait)
	defer cancelShutdown()
	if err := k.Shutdown(shutdownCtx); err != nil {
		log.Warn("kernel shutdown incomplete", zap.Error(err))
	}
	poller.CollectOnce()

	fmt.Fprintln(out, final)
	log.Info("demo stopped",
		zap.Uint64("ticks", final.Tick),
		zap.Uint64s("loops", final.Loops[:]),
		zap.Uint64s("acquired", final.Acquired[:]))
	return runErr
}
