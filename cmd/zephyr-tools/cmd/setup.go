package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// setupCmd prepares the Python virtual environment with west.
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Check prerequisites and install west into a virtual environment.",
	Long: `Checks that git, Python 3, pip and venv are available, creates the virtual
environment under the tools directory and installs west into it.`,
	Args: cobra.NoArgs,
	RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
		batch, err := a.setupService().Run(ctx)
		if err != nil {
			return err
		}

		return a.wait(ctx, batch)
	}),
}
