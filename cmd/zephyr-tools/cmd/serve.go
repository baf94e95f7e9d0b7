package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/zephyr-tools/internal/api/http/control"
	"github.com/oshokin/zephyr-tools/internal/config"
	"github.com/oshokin/zephyr-tools/internal/logger"
	"github.com/oshokin/zephyr-tools/internal/queue"
	"github.com/oshokin/zephyr-tools/internal/service/common"
)

// remotePollInterval is how often remote waits poll a batch.
const remotePollInterval = 500 * time.Millisecond

var (
	// listenAddress overrides the configured control API address.
	listenAddress string
	// remoteAddress is the control API a remote command talks to.
	remoteAddress string

	// serveCmd exposes the project commands over HTTP.
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control API for an editor host.",
		Long: `Serves build, flash, update and clean of the selected project over HTTP,
together with queue status and cancellation. The API listens on the loopback
address from the settings unless --listen is given.`,
		Args: cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			address := a.cfg.ListenAddress
			if listenAddress != "" {
				address = listenAddress
			}

			actor, err := common.DetectActor()
			if err != nil {
				logger.WarnKV(ctx, "Unable to detect the actor", "error", err)
			}

			server := control.NewServer(ctx, a.projectService(), a.queue, actor)

			return control.Serve(ctx, address, server.Handler())
		}),
	}

	// remoteCmd runs a command through a running control API.
	remoteCmd = &cobra.Command{
		Use:   "remote [status|cancel|build|build-pristine|flash|update|clean]",
		Short: "Run a command through a running serve process.",
		Args:  cobra.ExactArgs(1),
		ValidArgs: []string{
			"status", "cancel",
			control.CommandBuild, control.CommandBuildPristine, control.CommandFlash,
			control.CommandUpdate, control.CommandClean,
		},
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			address := a.cfg.ListenAddress
			if remoteAddress != "" {
				address = remoteAddress
			}

			client, err := control.NewClient(address, control.WithCallTimeout(a.cfg.Timeout))
			if err != nil {
				return err
			}

			return runRemote(ctx, a, client, args[0])
		}),
	}
)

func runRemote(ctx context.Context, a *app, client *control.Client, name string) error {
	switch name {
	case "status":
		status, err := client.Status(ctx)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(a.out, "Queue:\t%s (%d pending)\n", status.Queue.State, status.Queue.Pending)

		return printStatus(a, status.Workspace)
	case "cancel":
		status, err := client.Cancel(ctx)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(a.out, "Queue %s\n", status.State)

		return err
	}

	response, err := client.Command(ctx, name)
	if err != nil {
		return err
	}

	if name == control.CommandClean {
		_, err = fmt.Fprintf(a.out, "Removed %s\n", response.Removed)

		return err
	}

	result, err := client.WaitBatch(ctx, response.BatchID, remotePollInterval)
	if err != nil {
		return err
	}

	if result.Status != queue.StatusSucceeded {
		return fmt.Errorf("%s %s: %s", name, result.Status, result.Error)
	}

	if result.Message != "" {
		_, err = fmt.Fprintln(a.out, result.Message)
	}

	return err
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", "", "listen address, default "+config.DefaultListenAddress)
	remoteCmd.Flags().StringVar(&remoteAddress, "address", "", "control API address, default "+config.DefaultListenAddress)
}
