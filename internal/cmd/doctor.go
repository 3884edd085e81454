package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/bucketfs/internal/config"
	"github.com/3leaps/bucketfs/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment, configuration and store,
and suggest fixes for common issues.

Examples:
  bucketfs doctor
  bucketfs doctor -b my-bucket --profile prod`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// doctorRun numbers checks and remembers whether any failed.
type doctorRun struct {
	logger *zap.Logger
	n      int
	total  int
	ok     bool
}

func (d *doctorRun) pass(name, detail string, fields ...zap.Field) {
	d.n++
	d.logger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", d.n, d.total, name, detail), fields...)
}

func (d *doctorRun) warn(name, detail string, fields ...zap.Field) {
	d.n++
	d.ok = false
	d.logger.Warn(fmt.Sprintf("[%d/%d] Checking %s... ⚠️  %s", d.n, d.total, name, detail), fields...)
}

func (d *doctorRun) fail(name, detail string, fields ...zap.Field) {
	d.n++
	d.ok = false
	d.logger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ %s", d.n, d.total, name, detail), fields...)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := observability.CLILogger

	bannerName := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		bannerName = id.BinaryName + " doctor"
	}
	logger.Info("=== " + bannerName + " ===")
	logger.Info("")

	d := &doctorRun{logger: logger, total: 4, ok: true}
	if cfg.Store.Provider == config.ProviderS3 {
		d.total += 2
	}
	if cfg.Store.Bucket != "" {
		d.total++
	}

	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		d.pass("Go version", goVersion, zap.String("go_version", goVersion))
	} else {
		d.warn("Go version", goVersion+" (recommended: go1.23+)", zap.String("go_version", goVersion))
	}

	if dir, err := os.UserConfigDir(); err != nil {
		d.fail("config directory", "Cannot find config directory", zap.Error(err))
	} else {
		d.pass("config directory", dir, zap.String("config_dir", dir))
	}

	d.pass("environment", runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH))

	bucketDesc := cfg.Store.Bucket
	if bucketDesc == "" {
		bucketDesc = "(none, pass s3:// URIs or --bucket)"
	}
	d.pass("configuration", cfg.Store.Provider+" "+bucketDesc,
		zap.String("provider", cfg.Store.Provider),
		zap.String("bucket", cfg.Store.Bucket),
		zap.String("region", cfg.Store.Region),
		zap.String("endpoint", cfg.Store.Endpoint))

	if cfg.Store.Provider == config.ProviderS3 {
		runS3Checks(cmd.Context(), d, cfg.Store)
	}

	if cfg.Store.Bucket != "" {
		checkBucket(cmd.Context(), d, cfg.Store.Bucket)
	}

	logger.Info("")
	if !d.ok {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(ExitFailure, "Diagnostics failed", nil)
	}
	logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	return nil
}

// runS3Checks resolves AWS credentials the way the S3 store will.
func runS3Checks(ctx context.Context, d *doctorRun, st config.StoreConfig) {
	d.logger.Info("")
	d.logger.Info("S3 Provider Checks:")

	var opts []func(*awsconfig.LoadOptions) error
	if st.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(st.Profile))
	}
	if st.Region != "" {
		opts = append(opts, awsconfig.WithRegion(st.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		d.fail("AWS credentials", "Cannot load AWS config", zap.Error(err))
		d.n++
		printAWSCredentialsHelp()
		return
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		d.fail("AWS credentials", "Cannot retrieve credentials", zap.Error(err))
		d.n++
		printAWSCredentialsHelp()
		return
	}
	d.pass("AWS credentials", "Found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))

	region, source := awsCfg.Region, "config"
	if region == "" && st.Endpoint == "" {
		region, source = instanceRegion(ctx, awsCfg), "instance metadata"
	}
	if region == "" {
		d.warn("AWS region", "not set, the S3 client default applies")
		return
	}
	d.pass("AWS region", region, zap.String("region", region), zap.String("source", source))
}

// instanceRegion asks EC2 instance metadata for the region. Off EC2 the
// probe fails fast and yields "".
func instanceRegion(ctx context.Context, cfg aws.Config) string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, err := imds.NewFromConfig(cfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}

// checkBucket lists the first entry of the configured bucket root.
func checkBucket(ctx context.Context, d *doctorRun, bucket string) {
	fss := cliFileSystems()
	defer func() { _ = fss.Close() }()

	fsys, err := fss.FileSystem(ctx, bucket)
	if err != nil {
		d.fail("bucket access", "Cannot open "+bucket, zap.Error(err))
		return
	}
	for _, err := range fsys.ListChildren(ctx, fsys.Root()) {
		if err != nil {
			d.fail("bucket access", "Cannot list "+fsys.Root().URI(), zap.Error(err))
			return
		}
		break
	}
	d.pass("bucket access", fsys.Root().URI(), zap.String("bucket", bucket))
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func printAWSCredentialsHelp() {
	l := observability.CLILogger
	l.Info("")
	l.Info("To configure AWS credentials:")
	l.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	l.Info("  2. Run 'aws configure' to set up a profile and pass --profile, or")
	l.Info("  3. Use an IAM role when running on AWS infrastructure")
	l.Info("")
	l.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	l.Info("  - store.endpoint in the config file or the --endpoint flag")
	l.Info("")
}
