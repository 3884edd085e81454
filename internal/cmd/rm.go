package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/pkg/objfs"
)

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove files and directories",
	Long: `Remove files. Directories are removed only when empty, or with
everything below them when --recursive is set.

Examples:
  bucketfs rm s3://bucket/tmp/scratch.txt
  bucketfs rm -r -b bucket /tmp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRm,
}

var (
	rmRecursive bool
	rmForce     bool
)

func init() {
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "Remove directories and their contents")
	rmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Ignore paths that do not exist")
}

func runRm(cmd *cobra.Command, args []string) error {
	if err := requireWritable(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()
	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()

	for _, arg := range args {
		fsys, p, err := openTarget(ctx, fss, arg)
		if err != nil {
			return err
		}
		e, err := fsys.Stat(ctx, p)
		if err != nil {
			if rmForce && objfs.IsNotFound(err) {
				continue
			}
			return fsError("rm failed", err)
		}
		if e.IsDir() {
			err = fsys.DeleteDirectory(ctx, p, rmRecursive)
		} else {
			err = fsys.Delete(ctx, p)
		}
		if err != nil {
			return fsError("rm failed", err)
		}
		observability.CLILogger.Debug("removed", zap.String("path", p.URI()), zap.String("kind", e.Kind.String()))
	}
	return nil
}
