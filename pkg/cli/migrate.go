package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
)

func newMigrateCommand(connect Connector, out io.Writer) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
		out:         out,
	}
	cmd.Flags.SetOutput(out)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withBackend(ctx, connect, func(b Backend) error {
			version, err := b.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Database schema at version %d\n", version)
			return nil
		})
	}
	return cmd
}
