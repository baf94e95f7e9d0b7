package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// buildCmd builds the selected project.
	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build the selected project for its board.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			batch, err := a.projectService().Build(ctx, false)
			if err != nil {
				return err
			}

			return a.wait(ctx, batch)
		}),
	}

	// buildPristineCmd rebuilds the selected project from scratch.
	buildPristineCmd = &cobra.Command{
		Use:   "build-pristine",
		Short: "Discard the previous build output and build the selected project.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			batch, err := a.projectService().Build(ctx, true)
			if err != nil {
				return err
			}

			return a.wait(ctx, batch)
		}),
	}

	// flashCmd flashes the selected project.
	flashCmd = &cobra.Command{
		Use:   "flash",
		Short: "Flash the selected project with its runner.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			batch, err := a.projectService().Flash(ctx)
			if err != nil {
				return err
			}

			return a.wait(ctx, batch)
		}),
	}

	// updateCmd updates the modules and Python requirements.
	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Update the west modules and the Python requirements.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			batch, err := a.projectService().Update(ctx)
			if err != nil {
				return err
			}

			return a.wait(ctx, batch)
		}),
	}

	// cleanCmd removes the build output.
	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove the build output of the selected project.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			removed, err := a.projectService().Clean(ctx)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(a.out, "Removed %s\n", removed)

			return err
		}),
	}
)
