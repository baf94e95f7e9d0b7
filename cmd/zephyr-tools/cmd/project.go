package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oshokin/zephyr-tools/internal/service/project"
)

var errOnOff = errors.New("expected on or off")

var (
	// initOptions holds the init-repo flags.
	initOptions project.InitOptions

	// initRepoCmd initialises a west workspace from a manifest repository.
	initRepoCmd = &cobra.Command{
		Use:   "init-repo",
		Short: "Initialise the workspace from a west manifest repository.",
		Long: `Runs west init against the manifest repository (skipped when the workspace is
already initialised), updates the modules and installs the Python requirements
of the zephyr project. The workspace becomes the selected project.`,
		Args: cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			batch, err := a.projectService().InitRepo(ctx, initOptions)
			if err != nil {
				return err
			}

			return a.wait(ctx, batch)
		}),
	}

	// addProjectCmd registers a CMake project folder.
	addProjectCmd = &cobra.Command{
		Use:   "add-project [dir]",
		Short: "Register a folder with a CMake project as the selected project.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			p, err := a.projectService().AddProject(ctx, args[0])
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(a.out, "Project %s added\n", p.Name)

			return err
		}),
	}

	// setProjectCmd selects a registered project.
	setProjectCmd = &cobra.Command{
		Use:   "set-project [name]",
		Short: "Select a registered project.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			return a.projectService().SetProject(ctx, args[0])
		}),
	}

	// autoSelectCmd toggles automatic project selection.
	autoSelectCmd = &cobra.Command{
		Use:       "auto-select [on|off]",
		Short:     "Turn automatic project selection by file path on or off.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			switch strings.ToLower(args[0]) {
			case "on":
				return a.projectService().SetAutoSelect(ctx, true)
			case "off":
				return a.projectService().SetAutoSelect(ctx, false)
			default:
				return fmt.Errorf("%q: %w", args[0], errOnOff)
			}
		}),
	}

	// selectForFileCmd selects the project containing a file.
	selectForFileCmd = &cobra.Command{
		Use:   "select-for-file [path]",
		Short: "Select the project containing a file when automatic selection is on.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			name, changed, err := a.projectService().SelectForFile(ctx, args[0])
			if err != nil {
				return err
			}

			if changed {
				_, err = fmt.Fprintf(a.out, "Selected project %s\n", name)
			} else {
				_, err = fmt.Fprintf(a.out, "Project %s unchanged\n", name)
			}

			return err
		}),
	}

	// changeBoardCmd lists board roots and boards, or sets the board.
	changeBoardCmd = &cobra.Command{
		Use:   "change-board [board-dir] [board]",
		Short: "Set the board of the selected project.",
		Long: `Without arguments, lists the board directories of the workspace.
With a board directory, lists its boards. With both arguments, sets the board
and its board root for the selected project.`,
		Args: cobra.MaximumNArgs(2),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			svc := a.projectService()

			switch len(args) {
			case 0:
				roots, err := svc.BoardRoots()
				if err != nil {
					return err
				}

				return printLines(a, roots)
			case 1:
				boards, err := svc.Boards(args[0])
				if err != nil {
					return err
				}

				return printLines(a, boards)
			default:
				return svc.ChangeBoard(ctx, args[0], args[1])
			}
		}),
	}

	// changeRunnerCmd sets the flash runner.
	changeRunnerCmd = &cobra.Command{
		Use:       "change-runner [runner] [params...]",
		Short:     "Set the flash runner and its extra arguments.",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: project.Runners(),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			return a.projectService().ChangeRunner(ctx, args[0], strings.Join(args[1:], " "))
		}),
	}
)

func printLines(a *app, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(a.out, line); err != nil {
			return err
		}
	}

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initRepoCmd.Flags().StringVarP(&initOptions.URL, "url", "u", "", "manifest repository URL")
	initRepoCmd.Flags().StringVarP(&initOptions.Branch, "branch", "b", "", "manifest revision")
	initRepoCmd.Flags().StringVarP(&initOptions.Manifest, "manifest", "m", project.DefaultManifest, "manifest file name")
}
