package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/bucketfs/pkg/objfs"
)

var touchCmd = &cobra.Command{
	Use:   "touch <path>...",
	Short: "Set modification times, creating empty files as needed",
	Long: `Record a modification time on files and directories. A path that does
not exist becomes an empty file.

Files are rewritten in place by a server-side copy; directories get their
marker object rewritten.

Examples:
  bucketfs touch s3://bucket/data/ready.flag
  bucketfs touch --time 2024-01-15T12:00:00Z -b bucket /reports`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTouch,
}

var (
	touchTime     string
	touchNoCreate bool
)

func init() {
	rootCmd.AddCommand(touchCmd)
	touchCmd.Flags().StringVarP(&touchTime, "time", "t", "", "Time to record (RFC 3339, default now)")
	touchCmd.Flags().BoolVarP(&touchNoCreate, "no-create", "c", false, "Do not create missing files")
}

func runTouch(cmd *cobra.Command, args []string) error {
	if err := requireWritable(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()

	mtime := time.Now()
	if touchTime != "" {
		t, err := time.Parse(time.RFC3339Nano, touchTime)
		if err != nil {
			return exitError(ExitInvalidArgument, "Invalid time", fmt.Errorf("--time must be RFC 3339: %w", err))
		}
		mtime = t
	}

	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()

	for _, arg := range args {
		fsys, p, err := openTarget(ctx, fss, arg)
		if err != nil {
			return err
		}
		kind, err := fsys.Resolve(ctx, p)
		if err != nil {
			return fsError("touch failed", err)
		}
		if kind == objfs.NonExistent {
			if touchNoCreate {
				continue
			}
			if err := fsys.Create(ctx, p, bytes.NewReader(nil)); err != nil {
				return fsError("touch failed", err)
			}
		}
		if err := fsys.SetLastModified(ctx, p, mtime); err != nil {
			return fsError("touch failed", err)
		}
	}
	return nil
}
