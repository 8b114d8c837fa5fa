package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/redeployr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires every verb.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	redeployFlags := &RunFlags{}
	stopFlags := &RunFlags{}
	startFlags := &RunFlags{}
	statusFlags := &StatusFlags{}
	historyFlags := &HistoryFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRedeployCommand(globalFlags, redeployFlags),
		createStopCommand(globalFlags, stopFlags),
		createStartCommand(globalFlags, startFlags),
		createStatusCommand(globalFlags, statusFlags),
		createHistoryCommand(globalFlags, historyFlags),
		createServeCommand(globalFlags, serveFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "redeployr",
		Short: "One-shot redeploy supervisor for a single worker process",
		Long: `Redeployr replaces the running instance of a single long-lived worker:
stop the recorded instance, optionally run the update steps, start a
fresh instance and confirm it survives its first seconds. State lives in
a PID record file and runs are exclusive, so invocations from separate
shells coordinate.

Examples:
  redeployr redeploy --config bot.toml            # stop, start, confirm
  redeployr redeploy --config bot.toml --update   # with update steps
  redeployr status --config bot.toml
  redeployr serve --config bot.toml               # resident agent with HTTP API
  redeployr redeploy --api-url=http://remote:8137/api`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")

	return root
}

// addAPIFlags registers the remote agent connection flags shared by all
// one-shot verbs.
func addAPIFlags(cmd *cobra.Command, url *string, timeout *time.Duration, def time.Duration) {
	cmd.Flags().StringVar(url, "api-url", "", "remote agent URL (e.g. http://host:8137/api)")
	cmd.Flags().DurationVar(timeout, "api-timeout", def, "request timeout")
}

// createRedeployCommand creates the redeploy subcommand.
func createRedeployCommand(globalFlags *GlobalFlags, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redeploy",
		Short: "Stop, optionally update, start and confirm the worker",
		Long: `Run the full redeploy sequence: stop the recorded instance, optionally
run the configured update steps, start a fresh instance and confirm it
stays up through its confirm window.

Examples:
  redeployr redeploy --config bot.toml
  redeployr redeploy --config bot.toml --update
  redeployr redeploy --api-url=http://remote:8137/api --update`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runRedeployCommand(ff)
		},
	}

	cmd.Flags().BoolVar(&f.Update, "update", false, "run the configured update steps between stop and start")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the run report as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout, 5*time.Minute)

	return cmd
}

// createStopCommand creates the stop subcommand.
func createStopCommand(globalFlags *GlobalFlags, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker and clear its record",
		Long: `Stop the recorded worker instance with a graceful signal first and a
kill after the grace period, then remove its record. Stopping an already
stopped worker succeeds.

Examples:
  redeployr stop --config bot.toml
  redeployr stop --api-url=http://remote:8137/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runStopCommand(ff)
		},
	}

	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the run report as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout, time.Minute)

	return cmd
}

// createStartCommand creates the start subcommand.
func createStartCommand(globalFlags *GlobalFlags, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the worker without redeploying",
		Long: `Start a fresh worker instance and confirm it stays up. The run fails if
a live instance is already recorded; use redeploy to replace it.

Examples:
  redeployr start --config bot.toml
  redeployr start --api-url=http://remote:8137/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runStartCommand(ff)
		},
	}

	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the run report as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout, time.Minute)

	return cmd
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(globalFlags *GlobalFlags, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show worker status",
		Long: `Show whether the worker is running, its PID and since when, based on
the record file and process liveness.

Examples:
  redeployr status --config bot.toml
  redeployr status --config bot.toml --json
  redeployr status --api-url=http://remote:8137/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runStatusCommand(ff)
		},
	}

	cmd.Flags().BoolVar(&f.JSON, "json", false, "print status as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout, 30*time.Second)

	return cmd
}

// createHistoryCommand creates the history subcommand.
func createHistoryCommand(globalFlags *GlobalFlags, f *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deploy history",
		Long: `Show the most recent deploy events, newest first, from the configured
history sink.

Examples:
  redeployr history --config bot.toml
  redeployr history --config bot.toml --limit=50
  redeployr history --api-url=http://remote:8137/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runHistoryCommand(ff)
		},
	}

	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print events as JSON")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout, 30*time.Second)

	return cmd
}

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the resident agent with the HTTP API",
		Long: `Run redeployr as a resident agent exposing the deploy API over HTTP.
All configuration is loaded from the TOML config file.

Examples:
  redeployr serve --config bot.toml
  redeployr serve bot.toml
  redeployr serve bot.toml --daemonize --pidfile /run/redeployr.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			ff.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(ff, args)
		},
	}

	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the agent PID to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

func runServeCommand(f ServeFlags, args []string) error {
	configPath := f.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required; use --config=config.toml or pass it as an argument")
	}

	cfg, err := redeployr.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Server.Listen == "" {
		return fmt.Errorf("[server] listen must be set to run the agent")
	}

	// Daemonize only once the config is known to load, so mistakes surface
	// in the foreground.
	if f.Daemonize {
		return daemonize(f.PidFile, f.LogFile)
	}
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	sup, done, err := supervisorFromConfig(cfg)
	if err != nil {
		return err
	}
	defer done()

	if cfg.Metrics.Enabled {
		if err := redeployr.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		sampler := redeployr.NewWorkerSampler(redeployr.SamplerConfig{Enabled: true, Interval: cfg.Metrics.Interval})
		if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			fmt.Printf("Warning: failed to register worker sampler: %v\n", err)
		}
		sampler.Start(context.Background(), cfg.Worker.Name, func() int {
			return sup.Status(context.Background()).PID
		})
		defer sampler.Stop()

		if cfg.Metrics.Listen != "" {
			go func() {
				if err := redeployr.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	server, err := redeployr.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	fmt.Printf("Starting redeployr agent on %s%s\n", cfg.Server.Listen, cfg.Server.BasePath)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	return server.Close()
}
