// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "sql", cfg.Persistence.Type)
	assert.Equal(t, 256, cfg.Storage.ThumbnailMaxDim)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "labnotebook.yaml")

	yamlContent := `
storage:
  root: "/var/lib/labnotebook"
  thumbnail_quality: 70

persistence:
  type: "redis"
  key_prefix: "lab:"

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

execution:
  max_workers: 2
  default_lineage_depth: 5

integrations:
  query_max_rows: 50
  graph:
    server_url: "http://comfy.local:8188"
    timeout: 90s
    poll_interval: 250ms

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/labnotebook", cfg.Storage.Root)
	assert.Equal(t, 70, cfg.Storage.ThumbnailQuality)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 256, cfg.Storage.ThumbnailMaxDim)

	assert.Equal(t, "redis", cfg.Persistence.Type)
	assert.Equal(t, "lab:", cfg.Persistence.KeyPrefix)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, 2, cfg.Execution.MaxWorkers)
	assert.Equal(t, 5, cfg.Execution.DefaultLineageDepth)
	assert.Equal(t, 10, cfg.Execution.MaxLineageDepth)

	assert.Equal(t, 50, cfg.Integrations.QueryMaxRows)
	assert.Equal(t, "http://comfy.local:8188", cfg.Integrations.Graph.ServerURL)
	assert.Equal(t, 90*time.Second, cfg.Integrations.Graph.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Integrations.Graph.PollInterval)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("LABNOTEBOOK_STORAGE_ROOT", "/data/blobs")
	t.Setenv("LABNOTEBOOK_PERSISTENCE_TYPE", "memory")
	t.Setenv("LABNOTEBOOK_EXECUTION_MAX_WORKERS", "16")
	t.Setenv("LABNOTEBOOK_INTEGRATIONS_HTTP_TIMEOUT", "5s")
	t.Setenv("LABNOTEBOOK_INTEGRATIONS_GRAPH_WATCH_EVENTS", "true")
	t.Setenv("LABNOTEBOOK_INTEGRATIONS_GRAPH_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("LABNOTEBOOK_LOG_OUTPUT_PATHS", "stdout, /tmp/lab.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/blobs", cfg.Storage.Root)
	assert.Equal(t, "memory", cfg.Persistence.Type)
	assert.Equal(t, 16, cfg.Execution.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Integrations.HTTPTimeout)
	assert.True(t, cfg.Integrations.Graph.WatchEvents)
	assert.Equal(t, 2.5, cfg.Integrations.Graph.RequestsPerSecond)
	assert.Equal(t, []string{"stdout", "/tmp/lab.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "labnotebook.yaml")

	yamlContent := `
database:
  driver: "postgres"
  host: "yaml-host"
  name: "yaml-db"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("LABNOTEBOOK_DATABASE_HOST", "env-host")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "yaml-db", cfg.Database.Name)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYLAB_STORAGE_ROOT", "/custom")

	cfg, err := NewLoader().WithEnvPrefix("MYLAB").Load()
	require.NoError(t, err)

	assert.Equal(t, "/custom", cfg.Storage.Root)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("LABNOTEBOOK_EXECUTION_IDLE_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LABNOTEBOOK_EXECUTION_IDLE_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("LABNOTEBOOK_PERSISTENCE_TYPE", "cassandra")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported persistence type")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/labnotebook.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Storage, cfg.Storage)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
storage:
  root: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "memory persistence", modify: func(c *Config) { c.Persistence.Type = "memory" }},
		{name: "empty storage root", modify: func(c *Config) { c.Storage.Root = "" }, wantErr: true},
		{name: "thumbnail quality too high", modify: func(c *Config) { c.Storage.ThumbnailQuality = 101 }, wantErr: true},
		{name: "unknown sql driver", modify: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: true},
		{name: "zero workers", modify: func(c *Config) { c.Execution.MaxWorkers = 0 }, wantErr: true},
		{
			name: "default depth exceeds max",
			modify: func(c *Config) {
				c.Execution.DefaultLineageDepth = 20
			},
			wantErr: true,
		},
		{name: "zero poll interval", modify: func(c *Config) { c.Integrations.Graph.PollInterval = 0 }, wantErr: true},
		{name: "sample rate above one", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/notebook.db"},
			expected: "/path/to/notebook.db",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_PanicsOnBadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("storage: [oops"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
