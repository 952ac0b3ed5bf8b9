package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/leandrotocalini/wagateway/internal/config"
	"github.com/leandrotocalini/wagateway/internal/lifecycle"
	"github.com/leandrotocalini/wagateway/internal/logging"
)

const usage = `usage: wagateway [serve] [-config wagateway.json]
       wagateway pair [-config wagateway.json] [-timeout 3m] <account>`

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cmd, rest := subcommand(args)
	switch cmd {
	case "serve":
		return runServe(rest, stderr)
	case "pair":
		return runPair(rest, stderr)
	case "help":
		fmt.Fprintln(stderr, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "error: unknown command %q\n%s\n", cmd, usage)
		return 2
	}
}

// subcommand splits off the command name; flags alone mean serve.
func subcommand(args []string) (string, []string) {
	switch {
	case len(args) == 0:
		return "serve", nil
	case args[0] == "-h" || args[0] == "--help":
		return "help", nil
	case strings.HasPrefix(args[0], "-"):
		return "serve", args
	}
	return args[0], args[1:]
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", config.DefaultPath, "path to the JSON config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, logger, ring, ok := setup(*cfgPath, stderr)
	if !ok {
		return 1
	}

	mgr := lifecycle.NewManager(lifecycle.DefaultShutdownConfig(), logger)
	return mgr.Run(func(ctx context.Context) error {
		return serve(ctx, mgr, cfg, logger, ring)
	})
}

func runPair(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", config.DefaultPath, "path to the JSON config file")
	timeout := fs.Duration("timeout", defaultPairTimeout, "give up when no scan completes in this time")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "error: pair takes exactly one account id")
		fmt.Fprintln(stderr, usage)
		return 2
	}

	cfg, logger, _, ok := setup(*cfgPath, stderr)
	if !ok {
		return 1
	}

	mgr := lifecycle.NewManager(lifecycle.DefaultShutdownConfig(), logger)
	return mgr.Run(func(ctx context.Context) error {
		return pair(ctx, cfg, logger, fs.Arg(0), *timeout, os.Stdout)
	})
}

func setup(path string, stderr io.Writer) (*config.Config, *slog.Logger, *logging.Ring, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return nil, nil, nil, false
	}
	logger, ring := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		BufferSize: cfg.Log.BufferSize,
		Secrets:    []string{cfg.Server.Secret, cfg.Backend.Secret, cfg.Sessions.DSN, cfg.Alerts.SlackWebhookURL},
	})
	slog.SetDefault(logger)
	return cfg, logger, ring, true
}
