package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/engine"
	"github.com/CodeTease/wmcache/pkg/handlers"
	"github.com/CodeTease/wmcache/pkg/metrics"
	"github.com/CodeTease/wmcache/pkg/ratelimit"
	"github.com/CodeTease/wmcache/pkg/regen"
	"github.com/CodeTease/wmcache/pkg/telemetry"
)

func newServeCmd(cfgFn func() config.Config, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve images and the admin API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.EnableTracing {
				shutdown, err := telemetry.InitTracer(ctx, "wmcache")
				if err != nil {
					slog.Warn("Tracing disabled", "error", err)
				} else {
					defer shutdown(context.Background())
				}
			}

			e, err := engine.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			e.Start(ctx)
			defer e.Stop()
			go e.StartCleaner(ctx)

			var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.AdminRate, 10000, time.Hour)
			if len(cfg.RedisAddrs) > 0 {
				// Admin budgets are shared when several instances serve.
				limiter = ratelimit.NewRedisLimiter(cache.NewRedisClient(cfg.RedisAddrs, cfg.RedisPassword, cfg.RedisDB), cfg.AdminRate)
			}
			mux := handlers.NewHandler(e, cfg.AdminToken, limiter, cfg.EnableMetrics).Routes()
			if cfg.EnableMetrics {
				metrics.Init()
				mux.Handle("GET /metrics", promhttp.Handler())
				slog.Info("Metrics enabled at /metrics")
			}

			srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			slog.Info("wmcache running", "version", version, "port", cfg.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newStatsCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show derivative cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				stats, err := e.CacheStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
}

func newCleanupCmd(cfgFn func() config.Config) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete derivatives older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				deleted, err := e.CleanupOldCache(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d derivative(s) older than %d day(s)\n", deleted, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "minimum age in days")
	return cmd
}

func newRegenerateCmd(cfgFn func() config.Config) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Invalidate all derivatives and regenerate them with the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				id, err := e.RegenerateAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %s started\n", id)
				if !wait {
					return nil
				}
				e.Wait()
				b, err := e.BatchStatus(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(b)
			})
		},
	}
	// Batches run in this process; without --wait they stop when it exits.
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the batch to finish")
	return cmd
}

func newStatusCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show the progress of a regeneration batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				b, err := e.BatchStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if b == nil {
					return fmt.Errorf("batch %s not found", args[0])
				}
				return printJSON(b)
			})
		},
	}
}

func newSettingsCmd(cfgFn func() config.Config) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or change watermark settings",
	}

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current watermark settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				s, err := e.Settings(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	})

	settingsCmd.AddCommand(&cobra.Command{
		Use:   "set key=value...",
		Short: "Write settings; regenerates derivatives when the output changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				id, err := e.UpdateSettings(cmd.Context(), values)
				if err != nil && !errors.Is(err, regen.ErrNoVisualChange) {
					return err
				}
				if id == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Settings saved; rendered output unchanged")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Settings saved; regeneration batch %s started\n", id)
				e.Wait()
				return nil
			})
		},
	})
	return settingsCmd
}

func newGenerateCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <path>",
		Short: "Generate the watermarked derivative of one image now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), cfgFn(), func(e *engine.Engine) error {
				out, err := e.GenerateWatermarkNow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		values[strings.TrimSpace(k)] = v
	}
	return values, nil
}
