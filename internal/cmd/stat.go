package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the kind, size and modification time of a path",
	Long: `Show what a path resolves to. A directory reports the modification
time recorded on its marker object, if it has one.

Examples:
  bucketfs stat s3://bucket/data/report.csv
  bucketfs stat --format json -b bucket /data`,
	Args: cobra.ExactArgs(1),
	RunE: runStat,
}

var statFormat string

func init() {
	rootCmd.AddCommand(statCmd)
	statCmd.Flags().StringVarP(&statFormat, "format", "f", "yaml", "Output format (yaml|json)")
}

type statView struct {
	URI          string     `json:"uri" yaml:"uri"`
	Path         string     `json:"path" yaml:"path"`
	Name         string     `json:"name" yaml:"name"`
	Kind         string     `json:"kind" yaml:"kind"`
	Size         int64      `json:"size" yaml:"size"`
	LastModified *time.Time `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if statFormat != "yaml" && statFormat != "json" {
		return exitError(ExitInvalidArgument, "Invalid format", fmt.Errorf("format must be yaml or json, got %q", statFormat))
	}

	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()
	fsys, p, err := openTarget(ctx, fss, args[0])
	if err != nil {
		return err
	}

	e, err := fsys.Stat(ctx, p)
	if err != nil {
		return fsError("Stat failed", err)
	}

	v := statView{
		URI:  p.URI(),
		Path: p.String(),
		Name: e.Name,
		Kind: e.Kind.String(),
		Size: e.Size,
	}
	if !e.LastModified.IsZero() {
		t := e.LastModified.UTC()
		v.LastModified = &t
	}

	out := cmd.OutOrStdout()
	if statFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
