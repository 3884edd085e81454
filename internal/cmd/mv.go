package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/pkg/objfs"
)

var mvCmd = &cobra.Command{
	Use:   "mv <src> <dst>",
	Short: "Rename a file or directory",
	Long: `Rename a file or directory within one bucket.

The store has no rename, so every object is copied and then the sources
are deleted. A directory move copies all keys before deleting any; if it
fails part way, the report names the phase and the last key copied so the
move can be finished or rolled back by hand.

Examples:
  bucketfs mv s3://bucket/a.txt s3://bucket/b.txt
  bucketfs mv -b bucket /staging /published`,
	Args: cobra.ExactArgs(2),
	RunE: runMv,
}

func init() {
	rootCmd.AddCommand(mvCmd)
}

func runMv(cmd *cobra.Command, args []string) error {
	if err := requireWritable(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()
	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()

	fsys, src, err := openTarget(ctx, fss, args[0])
	if err != nil {
		return err
	}
	dst, err := resolvePath(args[1], src.Bucket())
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid destination", err)
	}
	if dst.Bucket() != src.Bucket() {
		return exitError(ExitInvalidArgument, "Cross-bucket move", fmt.Errorf("%s and %s are in different buckets", src.URI(), dst.URI()))
	}

	if err := fsys.Rename(ctx, src, dst); err != nil {
		var partial *objfs.PartialRenameError
		if errors.As(err, &partial) {
			observability.CLILogger.Error("rename stopped part way",
				zap.String("src", partial.Src.URI()),
				zap.String("dst", partial.Dst.URI()),
				zap.String("phase", partial.Phase),
				zap.String("last_copied", partial.LastCopied),
				zap.String("failed", partial.Failed))
		}
		return fsError("mv failed", err)
	}
	return nil
}
