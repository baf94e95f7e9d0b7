package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the tool settings shared by every command.
type Config struct {
	// ToolsDir is where downloads, toolchains, the python env and logs live.
	ToolsDir string `mapstructure:"tools_dir" yaml:"tools_dir"`
	// ManifestDir holds the <version>.sum checksum manifests.
	ManifestDir string `mapstructure:"manifest_dir" yaml:"manifest_dir"`
	// ReleaseBaseURL is the SDK release download root (http(s), s3 or file).
	ReleaseBaseURL string `mapstructure:"release_base_url" yaml:"release_base_url"`
	// TargetTriple selects the architecture overlay package.
	TargetTriple string `mapstructure:"target_triple" yaml:"target_triple"`
	// Python is the interpreter used to create the virtual environment.
	Python string `mapstructure:"python" yaml:"python"`
	// TarBinary is the external tar executable.
	TarBinary string `mapstructure:"tar_binary" yaml:"tar_binary"`
	// SevenZipBinary is the external 7-zip executable.
	SevenZipBinary string `mapstructure:"seven_zip_binary" yaml:"seven_zip_binary"`
	// DownloadRateLimit caps download throughput in bytes per second (0 = unlimited).
	DownloadRateLimit int64 `mapstructure:"download_rate_limit" yaml:"download_rate_limit"`
	// Timeout bounds prerequisite probes such as `git --version`.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// LogLevel is the console log level.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// LogFile is the append-only diagnostic log. Empty means <tools_dir>/logs.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
	// LogMaxSizeMB is the rotation threshold of the log file.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	// ListenAddress is where `serve` exposes the control API.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
	// S3 configures access to s3:// release mirrors.
	S3 S3Config `mapstructure:"s3" yaml:"s3"`
}

// S3Config configures an S3 or S3-compatible release mirror.
type S3Config struct {
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Profile        string `mapstructure:"profile" yaml:"profile,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

const (
	// DefaultConfigFilename is the settings file looked up when no path is given.
	DefaultConfigFilename = "zephyr-tools.yaml"

	// DefaultToolsFolder is created under the user home directory.
	DefaultToolsFolder = ".zephyrtools"

	// DefaultReleaseBaseURL is the upstream SDK release location.
	DefaultReleaseBaseURL = "https://github.com/zephyrproject-rtos/sdk-ng/releases/download"

	// DefaultTargetTriple is the overlay toolchain installed next to the minimal SDK.
	DefaultTargetTriple = "arm-zephyr-eabi"

	// DefaultTimeout bounds prerequisite probes.
	DefaultTimeout = 10 * time.Second

	// DefaultListenAddress is the loopback address of the control API.
	DefaultListenAddress = "127.0.0.1:7420"

	// DefaultFilePermissions is the permission for settings and state files.
	DefaultFilePermissions = 0o600

	// EnvPrefix prefixes environment overrides, e.g. ZEPHYR_TOOLS_TOOLS_DIR.
	EnvPrefix = "ZEPHYR_TOOLS"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errToolsDirRequired is returned when no tools directory can be derived.
	errToolsDirRequired = errors.New("tools directory must be provided")
	// errUnsupportedScheme is returned for release URLs we cannot fetch from.
	errUnsupportedScheme = errors.New("unsupported release url scheme")
)

// Load reads settings from path (or the default file when present), applies
// ZEPHYR_TOOLS_* environment overrides and validates the result.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	v.SetConfigFile(filepath.Clean(path))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var cfg Config

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills derived defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ToolsDir == "" {
		settings.ToolsDir = defaultToolsDir()
	}

	if settings.ToolsDir == "" {
		return errToolsDirRequired
	}

	if settings.ManifestDir == "" {
		settings.ManifestDir = filepath.Join(settings.ToolsDir, "manifests")
	}

	if settings.LogFile == "" {
		settings.LogFile = filepath.Join(settings.ToolsDir, "logs", "zephyr-tools.log")
	}

	if settings.ReleaseBaseURL == "" {
		settings.ReleaseBaseURL = DefaultReleaseBaseURL
	}

	if settings.TargetTriple == "" {
		settings.TargetTriple = DefaultTargetTriple
	}

	if settings.Python == "" {
		settings.Python = defaultPython()
	}

	if settings.TarBinary == "" {
		settings.TarBinary = "tar"
	}

	if settings.SevenZipBinary == "" {
		settings.SevenZipBinary = "7z"
	}

	// Set default timeout if not specified.
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.DownloadRateLimit < 0 {
		settings.DownloadRateLimit = 0
	}

	if settings.ListenAddress == "" {
		settings.ListenAddress = DefaultListenAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	releaseURL, err := url.Parse(settings.ReleaseBaseURL)
	if err != nil {
		return fmt.Errorf("invalid release base URL: %w", err)
	}

	switch releaseURL.Scheme {
	case "http", "https", "s3", "file":
	default:
		return fmt.Errorf("%s: %w", settings.ReleaseBaseURL, errUnsupportedScheme)
	}

	return nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tools_dir", defaultToolsDir())
	v.SetDefault("manifest_dir", "")
	v.SetDefault("release_base_url", DefaultReleaseBaseURL)
	v.SetDefault("target_triple", DefaultTargetTriple)
	v.SetDefault("python", defaultPython())
	v.SetDefault("tar_binary", "tar")
	v.SetDefault("seven_zip_binary", "7z")
	v.SetDefault("download_rate_limit", 0)
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 20)
	v.SetDefault("listen_address", DefaultListenAddress)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.force_path_style", false)
}

func defaultToolsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, DefaultToolsFolder)
}

func defaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}

	return "python3"
}
