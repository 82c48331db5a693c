package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/pactown/pkg/config"
	"github.com/cuemby/pactown/pkg/log"
	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/types"
)

var upCmd = &cobra.Command{
	Use:   "up <config>",
	Short: "Bring an ecosystem's services up in dependency order and hold the foreground",
	Long: `up resolves the ecosystem's dependency graph, starts each service in
order, and blocks in the foreground supervising them. Press Ctrl+C to
tear everything down again in reverse order.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := config.Load(args[0])
		if err != nil {
			return err
		}

		noPolicy, _ := cmd.Flags().GetBool("no-policy")
		engine, err := buildEngine(spec, !noPolicy)
		if err != nil {
			return err
		}
		defer engine.Close()

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			srv := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.WithComponent("cmd").Error().Err(err).Msg("metrics server stopped")
				}
			}()
			defer srv.Close()
		}

		ctx := context.Background()
		if err := engine.Up(ctx, spec); err != nil {
			return err
		}

		watchConfig, _ := cmd.Flags().GetBool("watch-config")
		if watchConfig {
			watcher, err := config.Watch(args[0], func(reloaded *types.EcosystemSpec, err error) {
				logger := log.WithComponent("cmd")
				if err != nil {
					logger.Warn().Err(err).Msg("config changed but is no longer valid; ignoring")
					return
				}
				logger.Warn().Str("config", reloaded.Name).Msg("config changed on disk; running services are unaffected, restart to apply")
			})
			if err != nil {
				return err
			}
			defer watcher.Stop()
		}

		fmt.Printf("%s is up: %d service(s) running. Press Ctrl+C to stop.\n", spec.Name, len(spec.Services))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := engine.Down(ctx, spec); err != nil {
			return err
		}
		fmt.Println("down.")
		return nil
	},
}

func init() {
	upCmd.Flags().String("metrics-addr", "", "Address to expose Prometheus metrics on (disabled if empty)")
	upCmd.Flags().Bool("watch-config", false, "Watch the config file and log a warning if it drifts from what's running")
}
