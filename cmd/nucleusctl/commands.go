package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/nucleus/internal/core/crypto"
	"github.com/artpar/nucleus/internal/core/domain"
)

// errUsage is returned after a usage message has been printed.
var errUsage = errors.New("usage")

type cli struct {
	client *Client
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	// Deploy
	case "deploy":
		return c.deployCmd(ctx, args)

	// Queries
	case "list":
		return c.listCmd(ctx)
	case "get":
		return c.getCmd(ctx, args)
	case "status":
		return c.statusCmd(ctx, args)

	// Logs
	case "logs":
		return c.logsCmd(ctx, args)
	case "tail":
		return c.tailCmd(ctx, args)

	// Local
	case "init":
		return c.initCmd(args)
	case "var":
		return c.varCmd(args)
	case "seal":
		return c.sealCmd(args)
	case "version":
		fmt.Fprintf(c.stdout, "nucleusctl %s (built %s)\n", Version, BuildTime)
		return nil

	default:
		fmt.Fprintf(c.stderr, "unknown command: %s\n", cmd)
		return errUsage
	}
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// parseNamed parses flags that may appear before or after a single
// positional service name.
func (c *cli) parseNamed(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		name := args[0]
		if err := fs.Parse(args[1:]); err != nil {
			return "", err
		}
		if fs.NArg() != 0 {
			return "", c.usage("%s <name> takes one service name", fs.Name())
		}
		return name, nil
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", c.usage("%s <name> takes one service name", fs.Name())
	}
	return fs.Arg(0), nil
}

func (c *cli) usage(format string, a ...any) error {
	fmt.Fprintf(c.stderr, "usage: "+format+"\n", a...)
	return errUsage
}

// =============================================================================
// Deploy
// =============================================================================

func (c *cli) deployCmd(ctx context.Context, args []string) error {
	fs := c.flags("deploy")
	file := fs.String("f", "nucleus.yaml", "service spec file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	spec, err := LoadSpec(*file)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stderr, "deploying %s...\n", spec.Name)
	resp, err := c.client.Deploy(ctx, spec)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "url:          %s\n", resp.URL)
	if resp.ExternalURL != "" {
		fmt.Fprintf(c.stdout, "external url: %s\n", resp.ExternalURL)
	}
	fmt.Fprintf(c.stdout, "internal url: %s\n", resp.InternalURL)
	return nil
}

// =============================================================================
// Queries
// =============================================================================

func (c *cli) listCmd(ctx context.Context) error {
	names, err := c.client.ListServices(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.stdout, name)
	}
	return nil
}

func (c *cli) getCmd(ctx context.Context, args []string) error {
	name, err := c.parseNamed(c.flags("get"), args)
	if err != nil {
		return err
	}
	resp, err := c.client.GetService(ctx, name)
	if err != nil {
		return err
	}
	return c.printJSON(resp)
}

func (c *cli) statusCmd(ctx context.Context, args []string) error {
	name, err := c.parseNamed(c.flags("status"), args)
	if err != nil {
		return err
	}
	rec, err := c.client.DescribeService(ctx, name)
	if err != nil {
		return err
	}
	return c.printJSON(rec)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Logs
// =============================================================================

func (c *cli) logsCmd(ctx context.Context, args []string) error {
	fs := c.flags("logs")
	window := fs.String("window", "15m", "time window: 15m, 1h or 1d")
	name, err := c.parseNamed(fs, args)
	if err != nil {
		return err
	}

	lines, err := c.client.LogWindow(ctx, name, *window)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(c.stdout, line)
	}
	return nil
}

func (c *cli) tailCmd(ctx context.Context, args []string) error {
	fs := c.flags("tail")
	follow := fs.Bool("follow", false, "keep streaming new lines")
	name, err := c.parseNamed(fs, args)
	if err != nil {
		return err
	}

	err = c.client.TailLogs(ctx, name, *follow, c.stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// =============================================================================
// Spec Files
// =============================================================================

func (c *cli) initCmd(args []string) error {
	fs := c.flags("init")
	file := fs.String("f", "nucleus.yaml", "spec file to create")
	name := fs.String("name", "", "service name (default: the spec file's directory name)")
	runtime := fs.String("runtime", "", "source runtime: nodejs, python or go")
	image := fs.String("image", "", "prebuilt image to deploy instead of building source")
	private := fs.Bool("private", false, "keep the service off the public edge")
	force := fs.Bool("force", false, "replace an existing spec file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 || (*runtime == "" && *image == "") {
		return c.usage("init [-f file] [-name name] (-runtime nodejs|python|go | -image ref) [-private] [-force]")
	}

	spec, err := ScaffoldSpec(filepath.Dir(*file), ScaffoldOptions{
		Name:    *name,
		Runtime: domain.Runtime(*runtime),
		Image:   *image,
		Private: *private,
	})
	if err != nil {
		return err
	}
	if err := WriteSpec(*file, spec, *force); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "wrote %s for service %s\n", *file, spec.Name)
	return nil
}

func (c *cli) varCmd(args []string) error {
	if len(args) == 0 || args[0] != "set" {
		return c.usage("var set [-f file] KEY=VALUE...")
	}
	fs := c.flags("var set")
	file := fs.String("f", "nucleus.yaml", "spec file to edit")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return c.usage("var set [-f file] KEY=VALUE...")
	}

	set, skipped, err := SetEnvVars(*file, fs.Args())
	if err != nil {
		return err
	}
	for _, a := range skipped {
		fmt.Fprintf(c.stderr, "skipping %q: not a KEY=VALUE assignment with a valid name\n", a)
	}
	if len(set) == 0 {
		return errors.New("no variables set")
	}
	fmt.Fprintf(c.stdout, "set %s in %s\n", strings.Join(set, ", "), *file)
	return nil
}

// =============================================================================
// Seal
// =============================================================================

func (c *cli) sealCmd(args []string) error {
	fs := c.flags("seal")
	decryptionContext := fs.String("context", "", "decryption context the value is bound to (must match secrets.nucleus.context)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return c.usage("seal [-context <ctx>] <value>")
	}

	master := os.Getenv("NUCLEUS_SECRETS_NUCLEUS_MASTER_KEY")
	if master == "" {
		return errors.New("NUCLEUS_SECRETS_NUCLEUS_MASTER_KEY is not set")
	}

	sealed, err := crypto.Seal([]byte(master), *decryptionContext, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, sealed)
	return nil
}
