package cmd

import (
	"github.com/spf13/cobra"

	"github.com/3leaps/bucketfs/pkg/objfs"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create directories",
	Long: `Create directories by writing their marker objects. Creating a
directory that already exists succeeds.

Without --parents the parent directory must already exist. With --parents
every missing ancestor gets a marker too, so the chain survives deletion of
its contents.

Examples:
  bucketfs mkdir s3://bucket/reports
  bucketfs mkdir -p -b bucket /a/b/c`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMkdir,
}

var mkdirParents bool

func init() {
	rootCmd.AddCommand(mkdirCmd)
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parent directories")
}

func runMkdir(cmd *cobra.Command, args []string) error {
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
		if mkdirParents {
			err = mkdirAll(cmd, fsys, p)
		} else {
			err = mkdir(cmd, fsys, p)
		}
		if err != nil {
			return fsError("mkdir failed", err)
		}
	}
	return nil
}

// mkdir creates p below an existing parent directory.
func mkdir(cmd *cobra.Command, fsys *objfs.FileSystem, p objfs.Path) error {
	ctx := cmd.Context()
	if !p.IsRoot() && !p.Parent().IsRoot() {
		parent, err := fsys.Stat(ctx, p.Parent())
		if err != nil {
			return err
		}
		if !parent.IsDir() {
			return &objfs.ConflictError{Path: parent.Path, Reason: "parent is a file"}
		}
	}
	return fsys.CreateDirectory(ctx, p)
}

// mkdirAll creates p and every missing ancestor, outermost first.
func mkdirAll(cmd *cobra.Command, fsys *objfs.FileSystem, p objfs.Path) error {
	ctx := cmd.Context()
	chain := p.Ancestors()
	for i := len(chain) - 1; i >= 0; i-- {
		if err := fsys.CreateDirectory(ctx, chain[i]); err != nil {
			return err
		}
	}
	return fsys.CreateDirectory(ctx, p)
}
