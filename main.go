package main

import (
	"log/slog"
	"os"

	"paintbynum/catalog"
	"paintbynum/parallel"
	"paintbynum/recolor"
	"paintbynum/server"

	"github.com/alecthomas/kong"
)

var cli struct {
	LogLevel slog.Level `help:"Log level (debug, info, warn, error)" default:"info"`
	Workers  int        `help:"Number of clustering workers, 0 for one per CPU" default:"0"`

	Quantize recolor.CLICmd `cmd:"" help:"Reduce an image to a fixed number of colors"`
	Serve    server.CLICmd  `cmd:"" help:"Serve the HTTP API"`
	Colors   catalog.CLICmd `cmd:"" help:"Manage the named color catalog"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("paintbynum"),
		kong.Description("Paint-by-number color quantizer"),
		kong.UsageOnError(),
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cli.LogLevel}))
	slog.SetDefault(logger)

	pool := parallel.Start(cli.Workers)
	defer pool.Wait(true)

	if err := kctx.Run(pool, logger); err != nil {
		// no pool.Wait: after a failed shutdown handlers may still use it
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		os.Exit(1)
	}
}
