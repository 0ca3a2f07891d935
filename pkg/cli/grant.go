package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/storage"
	"github.com/tutorhub/tutorhub/pkg/validation"
)

var knownRoles = map[string]bool{
	string(auth.RoleCEO):     true,
	string(auth.RoleAdmin):   true,
	string(auth.RoleManager): true,
}

func newGrantCommand(connect Connector, out io.Writer) *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Replace the roles of a user, e.g. to bootstrap the first ceo",
		Flags:       flag.NewFlagSet("grant", flag.ContinueOnError),
		out:         out,
	}
	cmd.Flags.SetOutput(out)
	email := cmd.Flags.String("email", "", "Email of the user (required)")
	roles := cmd.Flags.String("roles", "", "Comma-separated roles: ceo, admin, manager. Empty clears all roles")
	add := cmd.Flags.Bool("add", false, "Add the roles to the existing ones instead of replacing them")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		addr := validation.NormalizeEmail(*email)
		if addr == "" {
			return errors.New("-email is required")
		}
		requested, err := parseRoles(*roles)
		if err != nil {
			return err
		}

		return withBackend(ctx, connect, func(b Backend) error {
			user, err := b.GetUserByEmail(ctx, addr)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no user with email %s", addr)
			}
			if err != nil {
				return err
			}

			next := requested
			if *add {
				next = auth.NormalizeRoles(append(append([]string{}, user.Roles...), requested...))
			}

			updated, err := b.UpdateRoles(ctx, user.ID, next)
			if err != nil {
				return fmt.Errorf("failed to update roles: %w", err)
			}
			fmt.Fprintf(out, "%s (%s): roles=[%s] isAdmin=%t\n",
				updated.Email, updated.ID, strings.Join(updated.Roles, ","), updated.IsAdmin)
			return nil
		})
	}
	return cmd
}

// parseRoles splits a comma-separated role list and rejects unknown roles
func parseRoles(s string) ([]string, error) {
	roles := auth.NormalizeRoles(strings.Split(s, ","))
	for _, r := range roles {
		if !knownRoles[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
	}
	return roles, nil
}
