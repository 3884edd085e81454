package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/bucketfs/pkg/objfs"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "bucketfs %s\n", versionInfo.Version)
		if versionExtended {
			_, _ = fmt.Fprintf(out, "  commit:       %s\n", versionInfo.Commit)
			_, _ = fmt.Fprintf(out, "  built:        %s\n", versionInfo.BuildDate)
			_, _ = fmt.Fprintf(out, "  go:           %s\n", runtime.Version())
			_, _ = fmt.Fprintf(out, "  capabilities: %s\n", capabilityList())
		}
	},
}

var versionExtended bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionExtended, "extended", false, "Also print commit, build date and capabilities")
}

func capabilityList() string {
	caps := objfs.Capabilities()
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
