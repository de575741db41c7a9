package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/fraudlink/internal"
	"github.com/starford/fraudlink/internal/graph"
	pkgconfig "github.com/starford/fraudlink/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func link(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: fraudlink link <file.json>")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.LinkFile(ctx, path, cmd.Bool("enqueue"), opts...)
}

func connections(ctx context.Context, cmd *cli.Command) error {
	txID := cmd.Args().First()
	if txID == "" {
		return fmt.Errorf("usage: fraudlink connections <transaction-id>")
	}
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}

	var q graph.Options
	if cmd.IsSet("max-depth") {
		q.MaxDepth = graph.Int(int(cmd.Int("max-depth")))
	}
	if cmd.IsSet("min-confidence") {
		q.MinConfidence = graph.Int(int(cmd.Int("min-confidence")))
	}
	if cmd.IsSet("limit") {
		q.Limit = graph.Int(int(cmd.Int("limit")))
	}
	return internal.Connections(ctx, txID, q, cmd.Bool("direct"), opts...)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "fraudlink",
		Usage:   "Links transactions through shared identity attributes and serves connection queries for fraud scoring",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (.yaml or .toml)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the spool queue consumer",
				Action: run,
			},
			{
				Name:      "link",
				Usage:     "Process one transaction file and print its connections and features",
				ArgsUsage: "<file.json>",
				Action:    link,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "enqueue",
						Usage: "Drop the transaction into the spool inbox instead of processing it",
					},
				},
			},
			{
				Name:      "connections",
				Usage:     "Print the transactions connected to a transaction",
				ArgsUsage: "<transaction-id>",
				Action:    connections,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-depth", Usage: "Maximum number of hops"},
					&cli.IntFlag{Name: "min-confidence", Usage: "Minimum path confidence (0-100)"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of results"},
					&cli.BoolFlag{Name: "direct", Usage: "Only list one-hop connections"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
