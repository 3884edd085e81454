package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config files and env variables.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the bucketfs identity.
var DefaultIdentity = Identity{
	BinaryName: "bucketfs",
	EnvPrefix:  "BUCKETFS",
	ConfigName: "bucketfs",
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// envSpec maps one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// envAliases are the short variable names accepted besides the
// <PREFIX>_<SECTION>_<KEY> form.
var envAliases = []struct {
	suffix string
	path   string
}{
	{"PORT", "server.port"},
	{"HOST", "server.host"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"BUCKET", "store.bucket"},
	{"PROVIDER", "store.provider"},
	{"ENDPOINT", "store.endpoint"},
	{"REGION", "store.region"},
	{"OTLP_ENDPOINT", "tracing.endpoint"},
}

// workspaceHints are CI variables naming the checkout directory.
var workspaceHints = []string{"BUCKETFS_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.provider", ProviderS3)
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.region", "")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.profile", "")
	v.SetDefault("store.force_path_style", false)
	v.SetDefault("store.max_keys", 1000)

	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.ttl", "30s")

	v.SetDefault("stream.spill_threshold", "16MiB")
	v.SetDefault("stream.multipart_threshold", "64MiB")
	v.SetDefault("stream.part_size", "16MiB")
	v.SetDefault("stream.max_seek_discard", "64KiB")
	v.SetDefault("stream.spill_dir", "")

	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_interval", "100ms")
	v.SetDefault("retry.max_interval", "2s")

	v.SetDefault("timeouts.operation", "30s")

	v.SetDefault("rate_limit.rps", 0)
	v.SetDefault("rate_limit.burst", 0)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "bucketfs")

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// Load builds the configuration and makes it the current one returned by
// GetConfig. Later overrides win over earlier ones.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, "", overrides...)
}

// LoadFile is Load with an explicit config file merged above the discovered
// ones. An empty file is ignored; a named file that does not exist is an
// error.
func LoadFile(ctx context.Context, file string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}
	configMu.Unlock()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	for _, f := range discoverConfigFiles() {
		if err := mergeFile(v, f); err != nil {
			return nil, err
		}
	}
	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := mergeFile(v, file); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(identity().EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func identity() Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	if appIdentity == nil {
		return Identity{}
	}
	return *appIdentity
}

func mergeFile(v *viper.Viper, file string) error {
	v.SetConfigFile(file)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", file, err)
	}
	return nil
}

// discoverConfigFiles returns the existing user and project config files,
// lowest precedence first.
func discoverConfigFiles() []string {
	id := identity()
	var dirs []string
	dirs = append(dirs, getUserConfigPaths()...)
	if root, err := findProjectRoot(); err == nil {
		dirs = append(dirs, root)
	}

	var files []string
	for _, dir := range dirs {
		for _, ext := range []string{".yaml", ".yml"} {
			f := filepath.Join(dir, id.ConfigName+ext)
			if fi, err := os.Stat(f); err == nil && !fi.IsDir() && !slices.Contains(files, f) {
				files = append(files, f)
			}
		}
	}
	return files
}

// getUserConfigPaths returns the per-user config directories.
func getUserConfigPaths() []string {
	id := identity()
	if id.ConfigName == "" {
		return []string{}
	}
	var paths []string
	add := func(p string) {
		if p != "" && !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		add(filepath.Join(dir, id.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, ".config", id.ConfigName))
	}
	return paths
}

// getEnvSpecs lists the explicit env variable bindings.
func getEnvSpecs() []envSpec {
	id := identity()
	if id.EnvPrefix == "" {
		return []envSpec{}
	}
	specs := make([]envSpec, 0, len(envAliases))
	for _, a := range envAliases {
		specs = append(specs, envSpec{Name: id.EnvPrefix + "_" + a.suffix, Path: a.path})
	}
	return specs
}

// findProjectRoot returns the directory holding the project config. In CI
// a workspace hint wins when it is an absolute directory containing the
// working directory. Otherwise the nearest ancestor with a go.mod or a
// config file is used, falling back to the working directory.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		for _, name := range workspaceHints {
			if root, ok := workspaceHint(os.Getenv(name), cwd); ok {
				return root, nil
			}
		}
	}

	id := identity()
	markers := []string{"go.mod"}
	if id.ConfigName != "" {
		markers = append(markers, id.ConfigName+".yaml")
	}
	for dir := cwd; ; {
		for _, m := range markers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func workspaceHint(hint, cwd string) (string, bool) {
	if hint == "" || !filepath.IsAbs(hint) {
		return "", false
	}
	fi, err := os.Stat(hint)
	if err != nil || !fi.IsDir() {
		return "", false
	}
	root := filepath.Clean(hint)
	rel, err := filepath.Rel(root, cwd)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return root, true
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// ByteSize is a size in bytes that decodes from "16MiB", "512k" or a plain
// number.
type ByteSize int64

// String formats the size in binary units.
func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

// ParseByteSize parses a human byte size.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative size")
	}
	return ByteSize(n), nil
}

func byteSizeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(ByteSize(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != target || from.Kind() != reflect.String {
			return data, nil
		}
		size, err := ParseByteSize(reflect.ValueOf(data).String())
		if err != nil {
			return nil, fmt.Errorf("invalid byte size %q: %w", data, err)
		}
		return size, nil
	}
}
