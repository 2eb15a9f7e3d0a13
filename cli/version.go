package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"scribe.evalgo.org/version"
)

func init() {
	RootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("deps", false, "list dependency versions")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.GetBuildInfo()
		fmt.Printf("scribe %s (%s, %s)\n", version.GetVersion(), info.MainModule, info.GoVersion)

		if deps, _ := cmd.Flags().GetBool("deps"); deps {
			for _, dep := range info.Dependencies {
				fmt.Printf("  %s %s\n", dep.Path, dep.Version)
			}
		}
	},
}
