package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tutorhub/tutorhub/pkg/auth"
)

// Backend is the storage the admin commands operate on
type Backend interface {
	// Migrate applies pending migrations and returns the schema version
	Migrate(ctx context.Context) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
	UpdateRoles(ctx context.Context, id string, roles []string) (*auth.User, error)
	Close() error
}

// Connector opens the backend. Commands connect only when they run, so
// usage output needs no database.
type Connector func(ctx context.Context) (Backend, error)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the tutorhub-admin root command
func NewRootCommand(connect Connector, out io.Writer) *Command {
	if out == nil {
		out = os.Stdout
	}
	root := &Command{
		Name:        "tutorhub-admin",
		Description: "tutorhub administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tutorhub-admin", flag.ContinueOnError),
		out:         out,
	}

	root.Subcommands["migrate"] = newMigrateCommand(connect, out)
	root.Subcommands["grant"] = newGrantCommand(connect, out)

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute(ctx context.Context) error {
	return c.ExecuteArgs(ctx, os.Args[1:])
}

// ExecuteArgs runs the command with args, which exclude the program name
func (c *Command) ExecuteArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// withBackend connects, runs fn and closes the backend
func withBackend(ctx context.Context, connect Connector, fn func(Backend) error) error {
	backend, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer backend.Close()
	return fn(backend)
}
