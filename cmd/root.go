// Package cmd is the fedgate command line: the gateway server and the
// administrative commands that act on its store.
package cmd

import (
	"context"

	"github.com/deemkeen/fedgate/util"
	"github.com/spf13/cobra"
)

// loadConfig is replaced in tests.
var loadConfig = util.ReadConf

// NewRootCmd builds the fedgate command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fedgate",
		Short: "fedgate - a federated social network gateway",
		Long: `fedgate hosts local actors and federates them over ActivityPub:
it serves actor documents, outboxes and webfinger, accepts signed
deliveries in its inboxes and delivers local activities to remote peers.`,
		Version: util.GetVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newActorCmd(),
		newPostCmd(),
		newFollowCmd(),
		newQueueCmd(),
	)
	return root
}

// Execute runs the command tree with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// withApp loads the configuration, wires the gateway and runs f with it.
func withApp(cmd *cobra.Command, f func(ctx context.Context, a *app) error) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(conf)
	if err != nil {
		return err
	}
	defer a.Close()
	return f(cmd.Context(), a)
}
