package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "notesearch: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "notesearch",
		Usage:   "Hybrid note search with strict tag filtering, served over MCP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"NOTESEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Database path (overrides config and NOTESEARCH_DB_PATH)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the MCP protocol on stdio",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Listen address for /metrics and /healthz (overrides config)",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search notes",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags:     searchFlags(),
			},
			{
				Name:      "ingest",
				Usage:     "Ingest YAML note files from a file or directory",
				ArgsUsage: "<path>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-ingest every note ignoring content hashes",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent batches (overrides config)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Notes per embedding call and transaction (overrides config)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show index statistics and health",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON",
					},
				},
			},
			{
				Name:   "version",
				Usage:  "Show version and build information",
				Action: versionCommand,
			},
		},
	}
}

func searchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "hybrid, fts_only or semantic_only",
			Value:   "hybrid",
		},
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Usage:   "Maximum number of results (0-100, default from config)",
			Value:   -1,
		},
		&cli.Float64Flag{
			Name:  "min-score",
			Usage: "Drop results below this normalized score",
		},
		&cli.StringSliceFlag{
			Name:    "tag",
			Aliases: []string{"t"},
			Usage:   "Required notation (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "any-tag",
			Usage: "At least one of these notations (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tag",
			Usage: "Excluded notation (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "scheme",
			Usage: "Required concept scheme (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-scheme",
			Usage: "Excluded concept scheme (repeatable)",
		},
		&cli.IntFlag{
			Name:  "min-tag-count",
			Usage: "Minimum number of concepts on a note",
			Value: -1,
		},
		&cli.BoolFlag{
			Name:  "exclude-untagged",
			Usage: "Exclude notes without concepts or tags",
		},
		&cli.BoolFlag{
			Name:  "verify",
			Usage: "Re-check every hit against the filter using stored associations",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print JSON",
		},
	}
}
