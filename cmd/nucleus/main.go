// Command nucleus runs the deployment control plane: it builds and places
// services on the local Docker engine and serves the deploy, query and log API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("nucleus", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	if *showVersion {
		fmt.Printf("nucleus %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)
	logger.Info("starting nucleus", "version", Version, "config", *configPath)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return exitCode(logger, "create server", err)
	}
	if err := server.Start(ctx); err != nil {
		return exitCode(logger, "serve", err)
	}
	return ExitSuccess
}

// exitCode logs err and maps it to the process exit status.
func exitCode(logger *slog.Logger, stage string, err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		logger.Error(stage+" failed", "operation", sErr.Op, "error", sErr.Err)
		return sErr.ExitCode
	}
	logger.Error(stage+" failed", "error", err)
	return ExitConfigError
}
