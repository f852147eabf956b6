// Package main provides nucleusctl, the command line client for the Nucleus API.
//
// Usage:
//
//	nucleusctl [-server URL] [-token TOKEN] <command> [args...]
//
// Commands:
//
//	deploy -f nucleus.yaml         - Deploy the service described by a spec file
//	list                           - List services in order of first deploy
//	get <name>                     - Show a service's endpoints
//	status <name>                  - Show a service's registry record
//	logs <name> [-window 15m|1h|1d] - Print recent log lines
//	tail <name> [-follow]          - Stream the latest log lines
//	init -runtime r | -image ref   - Write a starting spec file
//	var set KEY=VALUE...           - Set envVars in the spec file
//	seal [-context ctx] <value>    - Encrypt a value for nucleus-managed secrets
//	version                        - Show client version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const defaultServer = "http://localhost:8080"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("nucleusctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	server := global.String("server", envOr("NUCLEUS_SERVER", defaultServer), "Nucleus API base URL")
	token := global.String("token", os.Getenv("NUCLEUS_API_TOKEN"), "API bearer token")
	if err := global.Parse(args); err != nil {
		return 2
	}

	if global.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: nucleusctl [-server URL] [-token TOKEN] <command> [args...]")
		return 2
	}

	app := &cli{
		client: NewClient(*server, *token),
		stdout: stdout,
		stderr: stderr,
	}

	err := app.dispatch(ctx, global.Arg(0), global.Args()[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
