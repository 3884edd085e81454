package cmd

import (
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider"
)

var putCmd = &cobra.Command{
	Use:   "put <path> [local-file]",
	Short: "Write a file from a local file or stdin",
	Long: `Write a file. Content comes from local-file, or from stdin when it is
omitted or "-". The parent directory must exist unless --parents is set.

Large content is staged on local disk and uploaded in parts.

Examples:
  bucketfs put s3://bucket/data/report.csv ./report.csv
  echo hello | bucketfs put -b bucket /greetings/hello.txt
  bucketfs put --append -b bucket /logs/app.log ./more.log`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

var (
	putContentType string
	putAppend      bool
	putParents     bool

	// localFs is where put reads local files from.
	localFs afero.Fs = afero.NewOsFs()
)

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().StringVar(&putContentType, "content-type", "", "Content type of the stored object")
	putCmd.Flags().BoolVar(&putAppend, "append", false, "Append to an existing file instead of replacing it")
	putCmd.Flags().BoolVarP(&putParents, "parents", "p", false, "Create missing parent directories")
}

func runPut(cmd *cobra.Command, args []string) error {
	if err := requireWritable(cmd); err != nil {
		return err
	}
	ctx := cmd.Context()

	var src io.Reader = cmd.InOrStdin()
	if len(args) == 2 && args[1] != "-" {
		f, err := localFs.Open(args[1])
		if err != nil {
			return exitError(ExitNotFound, "Cannot open local file", err)
		}
		defer func() { _ = f.Close() }()
		src = f
	}

	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()
	fsys, p, err := openTarget(ctx, fss, args[0])
	if err != nil {
		return err
	}
	if putParents && !p.IsRoot() {
		if err := mkdirAll(cmd, fsys, p.Parent()); err != nil {
			return fsError("Cannot create parent directories", err)
		}
	}

	var opts []objfs.WriteOption
	if putAppend {
		opts = append(opts, objfs.WithAppend())
	}
	if putContentType != "" {
		opts = append(opts, objfs.WithObjectOptions(provider.WithContentType(putContentType)))
	}

	w, err := fsys.OpenWrite(ctx, p, opts...)
	if err != nil {
		return fsError("Open failed", err)
	}
	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Abort()
		return fsError("Write failed", err)
	}
	size := w.Size()
	if err := w.Close(); err != nil {
		return fsError("Upload failed", err)
	}
	observability.CLILogger.Info("written",
		zap.String("path", p.URI()),
		zap.Int64("bytes", n),
		zap.Int64("size", size))
	return nil
}
