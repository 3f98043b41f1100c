package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"puckbot/internal/app"
)

func main() {
	var opts app.Options
	flag.StringVar(&opts.ConfigPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&opts.Date, "date", "", "override the game date (YYYY-MM-DD); runs that game and exits")
	flag.BoolVar(&opts.NoSocial, "nosocial", false, "log post previews instead of posting")
	flag.BoolVar(&opts.DebugSocial, "debugsocial", false, "post to the configured debug accounts")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
