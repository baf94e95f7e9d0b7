package cmd

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/zephyr-tools/internal/manifest"
	"github.com/oshokin/zephyr-tools/internal/service/sdk"
)

var (
	// installSDKCmd downloads, verifies and installs a toolchain version.
	installSDKCmd = &cobra.Command{
		Use:   "install-sdk [version]",
		Short: "Download, verify and install a Zephyr SDK version.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			outcome, err := a.sdkService().Install(ctx, args[0])
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(a.out, "Installed %s to %s\n", outcome.Version, outcome.InstallPath)

			return err
		}),
	}

	// listSDKCmd lists installable and installed versions.
	listSDKCmd = &cobra.Command{
		Use:   "list-sdk",
		Short: "List installable and installed Zephyr SDK versions.",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(ctx context.Context, a *app, _ []string) error {
			versions, err := a.sdkService().List(ctx)
			if err != nil {
				return err
			}

			if !slices.ContainsFunc(versions, func(v sdk.Version) bool { return v.Available }) {
				_, _ = fmt.Fprintf(a.out, "No release manifests in %s. Copy <version>%s files there or set manifest_dir.\n",
					a.cfg.ManifestDir, manifest.Extension)
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "VERSION\tAVAILABLE\tINSTALLED\tSELECTED\tPATH")

			for _, v := range versions {
				_, _ = fmt.Fprintf(w, "%s\t%t\t%t\t%t\t%s\n", v.Version, v.Available, v.Installed, v.Selected, v.InstallPath)
			}

			return w.Flush()
		}),
	}

	// setSDKCmd selects an installed version for the workspace.
	setSDKCmd = &cobra.Command{
		Use:   "set-sdk [version]",
		Short: "Select an installed Zephyr SDK version for the workspace.",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(ctx context.Context, a *app, args []string) error {
			return a.sdkService().Set(ctx, args[0])
		}),
	}
)
