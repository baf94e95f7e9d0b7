package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/zephyr-tools/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// workspaceDir is the workspace root the project commands work on.
	workspaceDir string
	// logLevel overrides the configured console log level.
	logLevel string

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "zephyr-tools",
		Short: "Provision the Zephyr SDK and drive west builds.",
		Long: `Provisions a Zephyr firmware toolchain and runs the west build pipeline.

setup prepares a Python virtual environment with west, install-sdk downloads,
verifies and installs an SDK version, and the project commands queue west jobs
against the selected project of the workspace. serve exposes the same commands
over a local HTTP API for an editor host.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the zephyr-tools CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "workspace root directory")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "console log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		setupCmd,
		installSDKCmd,
		listSDKCmd,
		setSDKCmd,
		initRepoCmd,
		addProjectCmd,
		setProjectCmd,
		autoSelectCmd,
		selectForFileCmd,
		changeBoardCmd,
		changeRunnerCmd,
		buildCmd,
		buildPristineCmd,
		flashCmd,
		cleanCmd,
		updateCmd,
		statusCmd,
		envCmd,
		resetCmd,
		serveCmd,
		remoteCmd,
	)
}
