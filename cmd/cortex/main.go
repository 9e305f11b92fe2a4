// Command cortex runs the processing Loop, the job Router, and a demo set
// of channel adapters (cron, webchat) as one process, wired from a single
// TOML config file. Mirrors nevindra-oasis's cmd/oasis and cmd/bot_example:
// a thin main that resolves config and hands off to a long-running Run,
// generalized here into a Cobra root command with serve/recover/router
// subcommands (grounded on thrapt-picobot's cmd/picobot NewRootCmd).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexlabs/cortex"
	"github.com/cortexlabs/cortex/internal/config"
	"github.com/cortexlabs/cortex/router"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   "cortex",
		Short: "cortex — a channel-agnostic processing loop and job router",
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to cortex.toml (defaults to ./cortex.toml)")

	rootCmd.AddCommand(newServeCmd(&cfgPath))
	rootCmd.AddCommand(newRecoverCmd(&cfgPath))
	rootCmd.AddCommand(newRouterCmd(&cfgPath))

	return rootCmd
}

func loadLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// newServeCmd wires the Bus, Processing Loop, Router, and the cron/webchat
// adapters into one running process — the everyday long-running command.
func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the processing loop, router, and adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loadLogger()
			cfg := config.Load(*cfgPath)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			c, cleanup, err := newComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			model := newModelFunc(cfg.LLM)

			adapters, cronAdapter, _, httpRouter := c.buildAdapters(c.store, func(ctx context.Context, env cortex.Envelope) {
				if _, err := c.store.Enqueue(ctx, env); err != nil {
					logger.Error("cortex: webchat enqueue failed", "error", err)
				}
			})
			rt := c.buildRouter(model)
			lp := c.buildLoop(model, adapters, rt)

			report, err := cortex.Recover(ctx, c.store, c.store, time.Duration(cfg.Recovery.OrphanAgeHours)*time.Hour, logger)
			if err != nil {
				logger.Error("cortex: startup recovery failed", "error", err)
			} else {
				logger.Info("cortex: startup recovery complete", "stalled_reset", report.StalledReset, "orphans_deleted", report.OrphansDeleted)
			}
			if _, err := router.Recover(ctx, c.store, rt.Notifier(), time.Duration(cfg.Router.HangThresholdSeconds)*time.Second, logger); err != nil {
				logger.Error("cortex: router recovery failed", "error", err)
			}

			c.mountMetrics(httpRouter)
			server := &http.Server{Addr: cfg.Webchat.Addr, Handler: httpRouter}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("cortex: http server failed", "error", err)
				}
			}()

			go func() {
				if err := cronAdapter.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("cortex: cron adapter stopped", "error", err)
				}
			}()

			go c.pollBusDepth(ctx)

			go func() {
				watchdog := router.NewWatchdog(c.store, rt.Notifier(), time.Duration(cfg.Router.HangThresholdSeconds)*time.Second, time.Duration(cfg.Router.WatchdogTickSeconds)*time.Second, logger)
				if err := watchdog.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("cortex: router watchdog stopped", "error", err)
				}
			}()

			go func() {
				if err := rt.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("cortex: router stopped", "error", err)
				}
			}()

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()

			err = lp.Run(ctx)
			_ = server.Shutdown(shutdownCtx)
			if err != nil && err != context.Canceled {
				return fmt.Errorf("loop stopped: %w", err)
			}
			return nil
		},
	}
}

// newRecoverCmd runs the root startup recovery sweep (stalled rows reset,
// orphans deleted) standalone, without starting the long-running Loop.
func newRecoverCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "run the startup recovery sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loadLogger()
			cfg := config.Load(*cfgPath)

			ctx := context.Background()
			c, cleanup, err := newComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := cortex.Recover(ctx, c.store, c.store, time.Duration(cfg.Recovery.OrphanAgeHours)*time.Hour, logger)
			if err != nil {
				return fmt.Errorf("recover: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d stalled entries, deleted %d orphans\n", report.StalledReset, report.OrphansDeleted)

			model := newModelFunc(cfg.LLM)
			rt := c.buildRouter(model)
			routerReport, err := router.Recover(ctx, c.store, rt.Notifier(), time.Duration(cfg.Router.HangThresholdSeconds)*time.Second, logger)
			if err != nil {
				return fmt.Errorf("router recover: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "router: recovered %d, failed %d\n", routerReport.Recovered, routerReport.Failed)
			return nil
		},
	}
}

// newRouterCmd groups Router-only operational subcommands.
func newRouterCmd(cfgPath *string) *cobra.Command {
	routerCmd := &cobra.Command{
		Use:   "router",
		Short: "router maintenance commands",
	}

	routerCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "run the Router watchdog standalone, continuously resetting hung jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loadLogger()
			cfg := config.Load(*cfgPath)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			c, cleanup, err := newComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			model := newModelFunc(cfg.LLM)
			rt := c.buildRouter(model)

			watchdog := router.NewWatchdog(c.store, rt.Notifier(), time.Duration(cfg.Router.HangThresholdSeconds)*time.Second, time.Duration(cfg.Router.WatchdogTickSeconds)*time.Second, logger)
			if err := watchdog.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	})

	return routerCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
