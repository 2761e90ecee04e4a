package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// RESULTSDB_DATABASE_SQLITE_PATH.
	EnvPrefix = "RESULTSDB"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultDriver is the default database driver.
	DefaultDriver = DriverSQLite

	// DefaultPostgresPort is the default PostgreSQL port.
	DefaultPostgresPort = 5432

	// DefaultListen is the default listen address of the query API.
	DefaultListen = ":8080"

	// DefaultRequestsPerMinute is the default per-IP API rate limit.
	DefaultRequestsPerMinute = 120

	// DefaultUploadPrefix is the default S3 key prefix for uploaded databases.
	DefaultUploadPrefix = "resultsdb"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration for resultsdb.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Upload   UploadConfig   `yaml:"upload" mapstructure:"upload"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DatabaseConfig contains the result store connection settings.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	// Stack keeps rows from earlier sessions. When false the tables are
	// dropped and recreated at session start.
	Stack    bool                 `yaml:"stack" mapstructure:"stack"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, sslMode,
	)
}

// Enabled reports whether a storage location is configured. Recording is
// opt-in: an empty location disables it.
func (d *DatabaseConfig) Enabled() bool {
	switch d.Driver {
	case DriverPostgres:
		return d.Postgres.Host != ""
	default:
		return d.SQLite.Path != ""
	}
}

// RecorderConfig controls how test runs are discovered and recorded.
type RecorderConfig struct {
	// SourceDir is the module root scanned for test doc comments and
	// resultsdb directives.
	SourceDir string `yaml:"source_dir" mapstructure:"source_dir"`
	// GoTestArgs are extra arguments passed to go test by the run command,
	// written as a single shell-quoted string.
	GoTestArgs string `yaml:"go_test_args" mapstructure:"go_test_args"`
	// Packages are the package patterns passed to go test by the run command.
	Packages []string `yaml:"packages" mapstructure:"packages"`
}

// Load reads configuration from the given YAML files, later files overriding
// earlier ones, then applies RESULTSDB_* environment overrides. With no paths
// only defaults and the environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for i, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)

	v.SetDefault("database.driver", DefaultDriver)
	v.SetDefault("database.stack", false)
	v.SetDefault("database.sqlite.path", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", DefaultPostgresPort)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("recorder.source_dir", "")
	v.SetDefault("recorder.go_test_args", "")
	v.SetDefault("recorder.packages", []string{"./..."})

	v.SetDefault("api.listen", DefaultListen)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", DefaultRequestsPerMinute)

	v.SetDefault("upload.s3.enabled", false)
	v.SetDefault("upload.s3.endpoint_url", "")
	v.SetDefault("upload.s3.region", "")
	v.SetDefault("upload.s3.bucket", "")
	v.SetDefault("upload.s3.access_key_id", "")
	v.SetDefault("upload.s3.secret_access_key", "")
	v.SetDefault("upload.s3.force_path_style", false)
	v.SetDefault("upload.s3.prefix", DefaultUploadPrefix)
	v.SetDefault("upload.s3.storage_class", "")
}

// applyDefaults fills values that may have been explicitly emptied.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}

	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = DefaultPostgresPort
	}

	if len(c.Recorder.Packages) == 0 {
		c.Recorder.Packages = []string{"./..."}
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultListen
	}

	if c.API.RateLimit.RequestsPerMinute <= 0 {
		c.API.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if c.Upload.S3.Prefix == "" {
		c.Upload.S3.Prefix = DefaultUploadPrefix
	}
}

// Validate checks the configuration for errors. An unset storage location
// is not an error; it disables recording.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if path := c.Database.SQLite.Path; path != "" && path != ":memory:" {
			dir := filepath.Dir(path)
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("database directory %q does not exist", dir)
			}
		}
	case DriverPostgres:
		if c.Database.Postgres.Host != "" && c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Upload.S3.Enabled && c.Upload.S3.Bucket == "" {
		return fmt.Errorf("upload.s3.bucket is required when s3 upload is enabled")
	}

	return nil
}
