package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/sensorstream/config"
	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/simulator"
)

// newRootCmd builds the command tree. Each call returns a fresh tree so
// tests can execute commands independently.
func newRootCmd() *cobra.Command {
	cli := &CLIConfig{}
	var logger *slog.Logger

	root := &cobra.Command{
		Use:   appName,
		Short: "Environmental telemetry pipeline",
		Long: `sensorstream ingests temperature and humidity readings from an MQTT or
NATS JetStream broker, flags threshold breaches and statistical anomalies,
persists every reading and streams the results over WebSocket and HTTP.`,
		Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFlags(cli); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}
			logger = setupLogger(cmd.ErrOrStderr(), cli.LogLevel, cli.LogFormat)
			slog.SetDefault(logger)
			mqttclient.SetLogger(logger, cli.Debug)
			return nil
		},
	}
	bindFlags(root, cli)

	root.AddCommand(
		newRunCmd(cli, &logger),
		newValidateCmd(cli),
		newConfigCmd(cli),
		newVersionCmd(),
		newSimulateCmd(cli, &logger),
	)
	return root
}

func newRunCmd(cli *CLIConfig, logger **slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cli.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			(*logger).Info("Starting sensorstream",
				"version", Version,
				"build_time", BuildTime,
				"config_path", cli.ConfigPath,
				"transport", cfg.Broker.Transport,
				"storage", cfg.Storage.Backend)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, *logger)
			if err != nil {
				return err
			}
			return app.Run(ctx, cli.ShutdownTimeout)
		},
	}
}

func newValidateCmd(cli *CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(cli.ConfigPath); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return err
		},
	}
}

func newConfigCmd(cli *CLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader()
			loader.AddLayer(cli.ConfigPath)
			loader.EnableValidation(false)
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build %s)\n", appName, Version, BuildTime)
			return err
		},
	}
}

func newSimulateCmd(cli *CLIConfig, logger **slog.Logger) *cobra.Command {
	simCfg := simulator.DefaultConfig()
	simCfg.Devices = getEnvInt("SENSORSTREAM_SIM_DEVICES", simCfg.Devices)
	simCfg.Interval = getEnvDuration("SENSORSTREAM_SIM_INTERVAL", simCfg.Interval)
	var topic string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic sensor readings to the configured broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Only the broker section matters here, thresholds may be unset
			loader := config.NewLoader()
			loader.AddLayer(cli.ConfigPath)
			loader.EnableValidation(false)
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			simCfg.Topic = cfg.Broker.Topic
			if topic != "" {
				simCfg.Topic = topic
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pub, err := newPublisher(cfg.Broker, *logger)
			if err != nil {
				return err
			}
			timeout := cfg.Broker.ConnectTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			connectCtx, cancel := context.WithTimeout(ctx, timeout)
			err = pub.Connect(connectCtx)
			cancel()
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = pub.Close(closeCtx)
			}()

			sim, err := simulator.New(simCfg, pub, *logger)
			if err != nil {
				return err
			}
			(*logger).Info("Simulating sensors",
				"devices", simCfg.Devices, "interval", simCfg.Interval, "topic", simCfg.Topic)
			return sim.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&simCfg.Devices, "devices", simCfg.Devices, "Number of simulated devices (env: SENSORSTREAM_SIM_DEVICES)")
	flags.DurationVar(&simCfg.Interval, "interval", simCfg.Interval, "Publish interval (env: SENSORSTREAM_SIM_INTERVAL)")
	flags.IntVar(&simCfg.Cycles, "cycles", 0, "Stop after this many cycles, 0 runs until interrupted")
	flags.Uint64Var(&simCfg.Seed, "seed", 0, "Random seed, 0 picks one from the clock")
	flags.StringVar(&topic, "topic", "", "Override broker.topic")
	return cmd
}
