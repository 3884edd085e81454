// Package cmd implements the bucketfs command line.
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/config"
	"github.com/3leaps/bucketfs/internal/observability"
	"github.com/3leaps/bucketfs/internal/server/handlers"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile   string
	logLevel  string
	readOnly  bool
	bucket    string
	storeKind string
	endpoint  string
	region    string
	profile   string

	appIdentity *config.Identity
	appConfig   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bucketfs",
	Short: "Browse and edit an S3 bucket as a filesystem",
	Long: `bucketfs presents the flat key space of an S3 bucket as a tree of
directories and files.

Directories are inferred from "/"-separated keys or recorded by zero-byte
marker objects ending in "/". Files can be read, written, renamed and
deleted; directories can be listed, created and removed recursively.

Paths are either s3://bucket/key URIs or slash paths resolved against the
default bucket (--bucket or BUCKETFS_BUCKET).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: discovered bucketfs.yaml)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&readOnly, "readonly", false, "refuse every command that changes the bucket")
	pf.StringVarP(&bucket, "bucket", "b", "", "default bucket for slash paths")
	pf.StringVar(&storeKind, "provider", "", "store provider (s3, memory)")
	pf.StringVar(&endpoint, "endpoint", "", "custom S3 endpoint")
	pf.StringVar(&region, "region", "", "AWS region")
	pf.StringVar(&profile, "profile", "", "AWS profile")

	_ = viper.BindEnv("readonly", "BUCKETFS_READONLY")
}

// SetVersionInfo records build metadata for the version command and the
// /version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity in use, or nil before the first
// command ran.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command and exits with the code of its error.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		observability.CLILogger.Error(err.Error())
		_ = observability.CLILogger.Sync()
		os.Exit(exitCodeFor(err))
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}

	cfg, err := config.LoadFile(cmd.Context(), cfgFile, flagOverrides(cmd))
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return exitError(ExitConfigInvalid, "Failed to load configuration", err)
	}
	appConfig = cfg

	logProfile := cfg.Logging.Profile
	if cmd.Name() != "serve" {
		logProfile = observability.ProfileConsole
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, logProfile); err != nil {
		return exitError(ExitConfigInvalid, "Invalid logging configuration", err)
	}
	observability.CLILogger.Debug("configuration loaded",
		zap.String("provider", cfg.Store.Provider),
		zap.String("bucket", cfg.Store.Bucket))
	return nil
}

// flagOverrides returns the config keys set explicitly on the command line.
func flagOverrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	set := func(flag, key string, val any) {
		if cmd.Flags().Changed(flag) {
			out[key] = val
		}
	}
	set("log-level", "logging.level", logLevel)
	set("bucket", "store.bucket", bucket)
	set("provider", "store.provider", storeKind)
	set("endpoint", "store.endpoint", endpoint)
	set("region", "store.region", region)
	set("profile", "store.profile", profile)
	set("host", "server.host", serveHost)
	set("port", "server.port", servePort)
	return out
}

func isReadOnly() bool {
	return readOnly || viper.GetBool("readonly")
}

// requireWritable fails mutating commands in readonly mode.
func requireWritable(cmd *cobra.Command) error {
	if isReadOnly() {
		return errReadOnly(cmd.CommandPath())
	}
	return nil
}
