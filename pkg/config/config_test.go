package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return configPath
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, `
global:
  log_level: info
database:
  driver: sqlite
  stack: false
  sqlite:
    path: /tmp/original.db
recorder:
  source_dir: ./original
  go_test_args: "-count=1"
api:
  listen: ":9000"
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/tmp/original.db", cfg.Database.SQLite.Path)
				assert.False(t, cfg.Database.Stack)
				assert.Equal(t, "./original", cfg.Recorder.SourceDir)
				assert.Equal(t, ":9000", cfg.API.Listen)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"RESULTSDB_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested field override - database.sqlite.path",
			envVars: map[string]string{
				"RESULTSDB_DATABASE_SQLITE_PATH": "/tmp/env.db",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/env.db", cfg.Database.SQLite.Path)
			},
		},
		{
			name: "boolean override - database.stack",
			envVars: map[string]string{
				"RESULTSDB_DATABASE_STACK": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Database.Stack)
			},
		},
		{
			name: "key absent from file - api.rate_limit.enabled",
			envVars: map[string]string{
				"RESULTSDB_API_RATE_LIMIT_ENABLED": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.API.RateLimit.Enabled)
			},
		},
		{
			name: "multiple overrides",
			envVars: map[string]string{
				"RESULTSDB_GLOBAL_LOG_LEVEL":      "trace",
				"RESULTSDB_RECORDER_GO_TEST_ARGS": "-race -count=2",
				"RESULTSDB_UPLOAD_S3_BUCKET":      "results",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "trace", cfg.Global.LogLevel)
				assert.Equal(t, "-race -count=2", cfg.Recorder.GoTestArgs)
				assert.Equal(t, "results", cfg.Upload.S3.Bucket)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "global: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Empty(t, cfg.Database.SQLite.Path)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, DefaultPostgresPort, cfg.Database.Postgres.Port)
	assert.Equal(t, []string{"./..."}, cfg.Recorder.Packages)
	assert.Equal(t, DefaultListen, cfg.API.Listen)
	assert.Equal(t, DefaultRequestsPerMinute, cfg.API.RateLimit.RequestsPerMinute)
	assert.Equal(t, DefaultUploadPrefix, cfg.Upload.S3.Prefix)
}

func TestLoad_NoFiles(t *testing.T) {
	t.Setenv("RESULTSDB_DATABASE_SQLITE_PATH", "results.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "results.db", cfg.Database.SQLite.Path)
	assert.True(t, cfg.Database.Enabled())
}

func TestLoad_LaterFilesOverride(t *testing.T) {
	base := writeConfig(t, `
database:
  sqlite:
    path: base.db
api:
  listen: ":1111"
`)
	override := writeConfig(t, `
database:
  sqlite:
    path: override.db
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "override.db", cfg.Database.SQLite.Path)
	assert.Equal(t, ":1111", cfg.API.Listen)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: yaml: content:"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr string
	}{
		{
			name:    "recording disabled is valid",
			cfg:     Config{Database: DatabaseConfig{Driver: DriverSQLite}},
			wantErr: false,
		},
		{
			name: "sqlite path in existing directory",
			cfg: Config{Database: DatabaseConfig{
				Driver: DriverSQLite,
				SQLite: SQLiteDatabaseConfig{Path: filepath.Join(tmpDir, "db.db")},
			}},
			wantErr: false,
		},
		{
			name: "sqlite in-memory",
			cfg: Config{Database: DatabaseConfig{
				Driver: DriverSQLite,
				SQLite: SQLiteDatabaseConfig{Path: ":memory:"},
			}},
			wantErr: false,
		},
		{
			name: "sqlite directory missing",
			cfg: Config{Database: DatabaseConfig{
				Driver: DriverSQLite,
				SQLite: SQLiteDatabaseConfig{Path: "/nonexistent/dir/db.db"},
			}},
			wantErr:   true,
			errSubstr: "does not exist",
		},
		{
			name: "postgres without database name",
			cfg: Config{Database: DatabaseConfig{
				Driver:   DriverPostgres,
				Postgres: PostgresConfig{Host: "localhost"},
			}},
			wantErr:   true,
			errSubstr: "database.postgres.database is required",
		},
		{
			name:      "unknown driver",
			cfg:       Config{Database: DatabaseConfig{Driver: "mysql"}},
			wantErr:   true,
			errSubstr: "unsupported database driver",
		},
		{
			name: "s3 enabled without bucket",
			cfg: Config{
				Database: DatabaseConfig{Driver: DriverSQLite},
				Upload:   UploadConfig{S3: S3UploadConfig{Enabled: true}},
			},
			wantErr:   true,
			errSubstr: "upload.s3.bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	p := PostgresConfig{
		Host:     "db",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "results",
	}

	assert.Equal(t,
		"host=db port=5433 user=u password=p dbname=results sslmode=disable",
		p.DSN(),
	)
}

func TestDatabaseConfig_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		cfg      DatabaseConfig
		expected bool
	}{
		{name: "sqlite empty", cfg: DatabaseConfig{Driver: DriverSQLite}, expected: false},
		{name: "sqlite path", cfg: DatabaseConfig{Driver: DriverSQLite, SQLite: SQLiteDatabaseConfig{Path: "a.db"}}, expected: true},
		{name: "postgres empty", cfg: DatabaseConfig{Driver: DriverPostgres}, expected: false},
		{name: "postgres host", cfg: DatabaseConfig{Driver: DriverPostgres, Postgres: PostgresConfig{Host: "db"}}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.Enabled())
		})
	}
}
