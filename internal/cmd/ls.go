package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/pkg/match"
	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/output"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Long: `List the children of a directory. Directories are shown with a
trailing "/".

A path containing glob characters lists the directory before the first
glob segment and keeps the entries matching the rest, e.g.

  bucketfs ls 's3://bucket/logs/**/*.gz'

Entries whose name starts with "." are hidden unless --all is set.
Subdirectories that cannot hold a match are not listed.

Examples:
  bucketfs ls s3://bucket/
  bucketfs ls -l -b bucket /data
  bucketfs ls -R --match '**/*.parquet' --exclude 'tmp/**' s3://bucket/warehouse
  bucketfs ls -R --type f --min-size 1GiB --after 2024-01-01 s3://bucket/
  bucketfs ls -R --json s3://bucket/ > listing.jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var (
	lsRecursive bool
	lsLong      bool
	lsAll       bool
	lsMatch     string
	lsExclude   string
	lsJSON      bool
	lsFilter    match.FilterConfig
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "R", false, "List subdirectories recursively")
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show kind, size and modification time")
	lsCmd.Flags().BoolVarP(&lsAll, "all", "a", false, "Include entries whose name starts with \".\"")
	lsCmd.Flags().StringVar(&lsMatch, "match", "", "Only show entries whose path below the listed directory matches this glob")
	lsCmd.Flags().StringVar(&lsExclude, "exclude", "", "Hide entries whose path below the listed directory matches this glob")
	lsCmd.Flags().StringVar(&lsFilter.Kind, "type", "", "Only show files (f) or directories (d)")
	lsCmd.Flags().StringVar(&lsFilter.MinSize, "min-size", "", "Only show files of at least this size (e.g. 10MB, 1GiB)")
	lsCmd.Flags().StringVar(&lsFilter.MaxSize, "max-size", "", "Only show files of at most this size")
	lsCmd.Flags().StringVar(&lsFilter.After, "after", "", "Only show entries modified on or after this date")
	lsCmd.Flags().StringVar(&lsFilter.Before, "before", "", "Only show entries modified before this date")
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Emit JSONL records instead of text")
}

// listing is one ls invocation.
type listing struct {
	fsys    *objfs.FileSystem
	root    objfs.Path
	matcher *match.Matcher
	filter  *match.CompositeFilter
	recurse bool

	emit    func(e objfs.Entry, rel string, depth int) error
	onError func(p objfs.Path, err error) error

	summary output.SummaryRecord
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	arg := "/"
	if len(args) == 1 {
		arg = args[0]
	}

	base, pattern, err := splitGlob(arg)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid path", err)
	}
	if lsMatch != "" {
		if pattern != "" {
			return exitError(ExitInvalidArgument, "Conflicting patterns", fmt.Errorf("use either a glob path or --match, not both"))
		}
		pattern = lsMatch
	}
	matcher, err := match.New(match.Config{
		Includes:      []string{pattern},
		Excludes:      []string{lsExclude},
		IncludeHidden: lsAll,
	})
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid pattern", err)
	}
	filter, err := match.NewFilter(lsFilter)
	if err != nil {
		return exitError(ExitInvalidArgument, "Invalid filter", err)
	}

	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()
	fsys, p, err := openTarget(ctx, fss, base)
	if err != nil {
		return err
	}

	entry, err := fsys.Stat(ctx, p)
	if err != nil {
		return fsError("Stat failed", err)
	}

	l := &listing{
		fsys:    fsys,
		root:    p,
		matcher: matcher,
		filter:  filter,
		recurse: lsRecursive || matcher.Recursive(),
	}
	observability.CLILogger.Debug("listing",
		zap.String("path", p.URI()),
		zap.Strings("match", matcher.Includes()),
		zap.Strings("exclude", matcher.Excludes()),
		zap.Stringer("filter", filter))

	out := cmd.OutOrStdout()
	var finish func() error
	if lsJSON {
		finish = l.jsonOutput(ctx, out)
	} else {
		finish = l.textOutput(out)
	}

	start := time.Now()
	if entry.IsDir() {
		err = l.walk(ctx, p, 1)
	} else {
		err = l.visitFile(entry)
	}
	l.summary.Duration = time.Since(start)
	l.summary.DurationHuman = l.summary.Duration.Round(time.Millisecond).String()
	if ferr := finish(); err == nil {
		err = ferr
	}
	if err != nil {
		return fsError("Listing failed", err)
	}
	if l.summary.Errors > 0 {
		return exitError(ExitPartialFailure, "Listing incomplete", fmt.Errorf("%d directories could not be listed", l.summary.Errors))
	}
	return nil
}

// walk lists dir depth-first, descending when recursion is on.
func (l *listing) walk(ctx context.Context, dir objfs.Path, depth int) error {
	for e, err := range l.fsys.ListChildren(ctx, dir) {
		if err != nil {
			l.summary.Errors++
			return l.onError(dir, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(e.Path.String(), l.root.String()), "/")
		if err := l.visit(e, rel, depth); err != nil {
			return err
		}
		if e.IsDir() && l.recurse && l.matcher.MayContain(rel) {
			if err := l.walk(ctx, e.Path, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *listing) visit(e objfs.Entry, rel string, depth int) error {
	if !l.matcher.Match(rel) {
		return nil
	}
	return l.count(e, rel, depth)
}

// visitFile lists a file named on the command line. Only attribute filters
// apply to it.
func (l *listing) visitFile(e objfs.Entry) error {
	return l.count(e, e.Name, 0)
}

func (l *listing) count(e objfs.Entry, rel string, depth int) error {
	if !l.filter.Match(e) {
		return nil
	}
	if e.IsDir() {
		l.summary.Directories++
	} else {
		l.summary.Files++
		l.summary.BytesTotal += e.Size
	}
	return l.emit(e, rel, depth)
}

func (l *listing) textOutput(w io.Writer) func() error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	l.emit = func(e objfs.Entry, rel string, _ int) error {
		name := rel
		if e.IsDir() {
			name += "/"
		}
		if !lsLong {
			_, err := fmt.Fprintln(tw, name)
			return err
		}
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kindLetter(e.Kind), sizeColumn(e), timeColumn(e.LastModified), name)
		return err
	}
	l.onError = func(_ objfs.Path, err error) error { return err }
	return tw.Flush
}

func (l *listing) jsonOutput(ctx context.Context, w io.Writer) func() error {
	jw := output.NewJSONLWriter(w, uuid.NewString(), l.root.Bucket())
	l.emit = func(e objfs.Entry, _ string, depth int) error {
		return jw.Emit(ctx, entryRecord(e, depth))
	}
	// In JSON mode a directory that cannot be listed is reported and
	// skipped so the rest of the tree is still emitted.
	l.onError = func(p objfs.Path, err error) error {
		observability.CLILogger.Warn("listing failed", zap.String("path", p.URI()), zap.Error(err))
		return jw.Emit(ctx, errorRecord(p, err))
	}
	return func() error {
		defer func() { _ = jw.Close() }()
		return jw.Emit(ctx, &l.summary)
	}
}

func entryRecord(e objfs.Entry, depth int) *output.EntryRecord {
	rec := &output.EntryRecord{
		Path:  e.Path.String(),
		Name:  e.Name,
		Kind:  e.Kind.String(),
		Size:  e.Size,
		Depth: depth,
	}
	if !e.LastModified.IsZero() {
		t := e.LastModified.UTC()
		rec.LastModified = &t
	}
	return rec
}

func errorRecord(p objfs.Path, err error) *output.ErrorRecord {
	return &output.ErrorRecord{
		Code:      apperrors.FromError(err).Code,
		Message:   err.Error(),
		Path:      p.String(),
		StoreCode: objfs.ErrorCode(err),
	}
}

func kindLetter(k objfs.NodeKind) string {
	if k == objfs.Directory {
		return "d"
	}
	return "-"
}

func sizeColumn(e objfs.Entry) string {
	if e.IsDir() {
		return "-"
	}
	return units.HumanSize(float64(e.Size))
}

func timeColumn(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
