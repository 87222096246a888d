package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
	"github.com/spf13/cobra"
)

func newPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post IDENTIFIER TEXT...",
		Short: "Publish a public note and deliver it to the actor's followers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := util.NormalizeInput(strings.Join(args[1:], " "))
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("%w: empty note", domain.ErrInvalidInput)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				create, err := a.publisher.Publish(ctx, args[0], content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", create.ObjectURI)
				return nil
			})
		},
	}
}

func newFollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow IDENTIFIER ACTOR_URI",
		Short: "Follow a remote or local actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				follow, err := a.publisher.Follow(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s follows %s\n", follow.ActorURI, follow.ObjectURI)
				return nil
			})
		},
	}
}

func newQueueCmd() *cobra.Command {
	var flush bool

	c := &cobra.Command{
		Use:   "queue",
		Short: "Show the delivery queue, optionally retrying due deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if flush {
					fmt.Fprintf(out, "Delivered %d\n", a.dispatcher.ProcessQueue(ctx))
				}
				n, err := a.dispatcher.Pending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pending %d\n", n)
				return nil
			})
		},
	}
	c.Flags().BoolVar(&flush, "flush", false, "Retry the deliveries that are due now")
	return c
}
