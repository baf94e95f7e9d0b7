package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/zephyr-tools/internal/service/project"
)

var (
	// statusCmd prints the active selections.
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the selected project, board, runner and toolchain.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			status, err := a.projectService().Status(ctx)
			if err != nil {
				return err
			}

			return printStatus(a, status)
		}),
	}

	// envCmd prints the environment jobs run with.
	envCmd = &cobra.Command{
		Use:   "env",
		Short: "Print the environment build and flash jobs run with.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			env, err := a.projectService().Environment(ctx)
			if err != nil {
				return err
			}

			return printLines(a, env)
		}),
	}

	// resetCmd discards the persisted records.
	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Forget the setup, installed toolchains and workspace projects.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			return a.projectService().Reset(ctx)
		}),
	}
)

func printStatus(a *app, status *project.Status) error {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)

	rows := [][2]string{
		{"Setup", fmt.Sprint(status.IsSetup)},
		{"Project", status.SelectedProject},
		{"Board", status.Board},
		{"Board root", status.BoardRootDir},
		{"Runner", strings.TrimSpace(status.Runner + " " + status.RunnerParams)},
		{"Toolchain", status.SelectedToolchain},
		{"Toolchain path", status.ToolchainPath},
		{"Auto select", fmt.Sprint(status.AutoSelectProject)},
		{"Projects", strings.Join(status.Projects, ", ")},
	}

	for _, row := range rows {
		value := row[1]
		if value == "" {
			value = "-"
		}

		_, _ = fmt.Fprintf(w, "%s:\t%s\n", row[0], value)
	}

	return w.Flush()
}
