package cmd

import (
	"context"
	"fmt"

	"github.com/deemkeen/fedgate/domain"
	"github.com/spf13/cobra"
)

func newActorCmd() *cobra.Command {
	actorCmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage local actors",
	}
	actorCmd.AddCommand(newActorCreateCmd(), newActorShowCmd(), newActorListCmd())
	return actorCmd
}

func newActorCreateCmd() *cobra.Command {
	var profile domain.Profile
	var withKeys bool

	c := &cobra.Command{
		Use:   "create IDENTIFIER",
		Short: "Register a local actor",
		Long: `Register a local actor. Identifiers are 1 to 64 characters of
lowercase letters, digits and underscores. The signing keypair is created
on first use unless --keys is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.directory.CreateActor(ctx, args[0], profile)
				if err != nil {
					return err
				}
				if withKeys {
					if _, err := a.directory.GetOrGenerateKeyPair(ctx, actor.Identifier); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", a.links.Actor(actor.Identifier))
				return nil
			})
		},
	}
	c.Flags().StringVar(&profile.DisplayName, "name", "", "Display name")
	c.Flags().StringVar(&profile.Summary, "summary", "", "Profile summary")
	c.Flags().BoolVar(&withKeys, "keys", false, "Generate the signing keypair right away")
	return c
}

func newActorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show IDENTIFIER",
		Short: "Print a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.directory.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s%s\n", a.links.Actor(actor.Identifier), actor.ToString())
				fmt.Fprintf(out, "\tKeys: %t\n", actor.HasKeys())
				return nil
			})
		},
	}
}

func newActorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local actors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ids, err := a.directory.List(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}
