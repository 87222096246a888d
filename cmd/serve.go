package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/fedgate/util"
	"github.com/deemkeen/fedgate/web"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and the delivery worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				log.Printf("Starting %s", util.GetNameAndVersion())
				if a.conf.Conf.Debug {
					log.Printf("Configuration: %s", util.PrettyPrint(a.conf))
				}

				a.dispatcher.StartDeliveryWorker(ctx, a.conf.DeliveryIntervalDuration())
				return web.Serve(ctx, a.server())
			})
		},
	}
}
