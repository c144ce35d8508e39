// cmd/draft/main.go is the interactive draft participant: a hot-seat board, a networked host, or a
// player joining a host's room.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/draftsync/internal/cli"
	"github.com/jason-s-yu/draftsync/internal/config"
	"github.com/jason-s-yu/draftsync/internal/logging"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	fs := flag.NewFlagSet("draft", flag.ExitOnError)
	opts, err := cli.ParseOptions(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, cli.ErrUsage) {
			fs.PrintDefaults()
		}
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{Opts: opts, Cfg: cfg, Log: logger, In: os.Stdin, Out: os.Stdout}
	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
