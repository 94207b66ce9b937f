package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ccbridge/ccbridge/internal/app"
	"github.com/ccbridge/ccbridge/internal/observability"
	"github.com/ccbridge/ccbridge/internal/openaiadapter/anthropicclaude"
)

// telemetryFlushTimeout bounds the final flush of log and metric exporters.
const telemetryFlushTimeout = 5 * time.Second

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	cmd := &cli.Command{
		Name:    "ccbridge",
		Usage:   "OpenAI-compatible gateway for Claude deployments on Azure",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML or YAML config file",
				Sources: cli.EnvVars(envPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: "text",
			},
		},
		Commands: []*cli.Command{
			serveCommand(version),
			modelsCommand(),
			probeCommand(),
			authCommand(),
		},
		// Running without a subcommand starts the gateway.
		DefaultCommand: "serve",
	}

	return cmd.Run(ctx, args)
}

func serveCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Starts the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "listen host",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "full URL of the Azure Anthropic Messages endpoint",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serveAction(ctx, cmd, version)
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command, version string) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return err
	}

	// Set up observability before creating app
	shutdownTelemetry, err := observability.Instrument(ctx, observability.Options{
		Level:           level,
		Format:          cfg.Log.Format,
		File:            cfg.Log.File,
		FileMaxSizeMB:   cfg.Log.FileMaxSizeMB,
		FileMaxBackups:  cfg.Log.FileMaxBackups,
		FileMaxAgeDays:  cfg.Log.FileMaxAgeDays,
		LogExporter:     cfg.Log.Exporter,
		MetricsExporter: cfg.Metrics.Exporter,
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush telemetry: %v\n", err)
		}
	}()

	application, err := app.New(ctx, *cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "version", version)

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:   "models",
		Usage:  "Prints the model routing table",
		Action: modelsAction,
	}
}

func modelsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	catalog := anthropicclaude.NewCatalog(cfg.Models.CatalogConfig())

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEYWORD\tDEPLOYMENT\tMAX OUTPUT TOKENS\tTHINKING")
	for _, tier := range catalog.Tiers() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", tier.Keyword, tier.Deployment,
			catalog.MaxOutputTokens(tier.Deployment), catalog.SupportsThinking(tier.Deployment))
	}
	fmt.Fprintf(tw, "(default)\t%s\t%d\t%t\n", cfg.Models.DefaultDeployment,
		catalog.MaxOutputTokens(cfg.Models.DefaultDeployment), catalog.SupportsThinking(cfg.Models.DefaultDeployment))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.Root().Writer)
	fmt.Fprintf(cmd.Root().Writer, "Thinking: budget %d tokens, ceiling %d tokens, keywords %s\n",
		catalog.ThinkingBudget(), cfg.Models.ThinkingMaxOutputTokens, strings.Join(cfg.Models.ThinkingKeywords, ", "))
	return nil
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Sends a minimal request to verify the upstream endpoint and credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "full URL of the Azure Anthropic Messages endpoint",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "model name or deployment to probe",
				Value: "claude-3-5-haiku",
			},
		},
		Action: probeAction,
	}
}

func probeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := app.NewUpstreamClient(ctx, cfg.Upstream, nil)
	if err != nil {
		return err
	}
	if err := client.Configured(); err != nil {
		return err
	}

	catalog := anthropicclaude.NewCatalog(cfg.Models.CatalogConfig())
	deployment := catalog.ResolveDeployment(cmd.String("model"))

	start := time.Now()
	msg, err := anthropicclaude.Probe(ctx, client.Transport(), client.Endpoint(), deployment)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("probe failed: %w", err)
	}

	fmt.Println("=== Probe Successful ===")
	fmt.Printf("Endpoint:   %s\n", client.Endpoint())
	fmt.Printf("Deployment: %s\n", deployment)
	fmt.Printf("Model:      %s\n", msg.Model)
	fmt.Printf("Latency:    %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
