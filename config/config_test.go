package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
descriptor: schema_descriptor.json
constraints:
  path: constraints.yaml
feed:
  type: DataFeed
  output: /tmp/feed.json
report:
  format: markdown
  output: report.md
source:
  sqlite: movies.db
log:
  level: debug
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "ldfeed.yaml", sampleConfig)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "schema_descriptor.json"), cfg.Descriptor)
	assert.Equal(t, filepath.Join(dir, "constraints.yaml"), cfg.Constraints.Path)
	assert.Equal(t, "/tmp/feed.json", cfg.Feed.Output, "absolute paths are kept")
	assert.Equal(t, "DataFeed", cfg.Feed.GetType())
	assert.Equal(t, "markdown", cfg.Report.GetFormat())
	assert.Equal(t, filepath.Join(dir, "movies.db"), cfg.Source.SQLite)
	assert.Equal(t, slog.LevelDebug, cfg.Log.GetLevel())
	assert.False(t, cfg.Constraints.UsesEtcd())
}

func TestLoadYML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "ldfeed.yml", "descriptor: d.json\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ItemList", cfg.Feed.GetType())
	assert.Equal(t, "html", cfg.Report.GetFormat())
	assert.Equal(t, "ldfeed", cfg.Report.GetRedisPrefix())
	assert.Equal(t, slog.LevelInfo, cfg.Log.GetLevel())
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "custom.yaml", sampleConfig)

	t.Setenv("LDFEED_REPORT_FORMAT", "json")
	t.Setenv("LDFEED_REPORT_REDIS_URL", "redis://cache:6379")
	t.Setenv("LDFEED_CONSTRAINTS_ETCD_ENDPOINTS", "etcd-1:2379,etcd-2:2379")
	t.Setenv("LDFEED_CONSTRAINTS_ETCD_KEY", "movies")
	t.Setenv("LDFEED_FEED_KEEP_INVALID", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, "redis://cache:6379", cfg.Report.RedisURL)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Constraints.Etcd.Endpoints)
	assert.True(t, cfg.Constraints.UsesEtcd())
	assert.True(t, cfg.Feed.KeepInvalid)
	assert.Equal(t, "DataFeed", cfg.Feed.Type, "unset variables keep file values")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to stat path")

	_, err = Load(dir)
	assert.ErrorContains(t, err, "no ldfeed.yaml")

	bad := writeConfig(t, dir, "bad.yaml", "feed: [")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "failed to parse config file")

	invalid := writeConfig(t, dir, "invalid.yaml", "feed:\n  type: Catalog\n")
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "feed.type")

	t.Setenv("LDFEED_FEED_KEEP_INVALID", "maybe")
	_, err = Load(writeConfig(t, dir, "ok.yaml", "descriptor: d.json\n"))
	assert.ErrorContains(t, err, "parse env:")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Config{}},
		{name: "report format", cfg: Config{Report: ReportConfig{Format: "pdf"}}, wantErr: "report.format"},
		{name: "etcd without key", cfg: Config{Constraints: ConstraintsConfig{Etcd: EtcdConfig{Endpoints: []string{"e:2379"}}}}, wantErr: "key is required"},
		{name: "dial timeout", cfg: Config{Constraints: ConstraintsConfig{Etcd: EtcdConfig{DialTimeout: "soon"}}}, wantErr: "dial_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetDialTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, EtcdConfig{}.GetDialTimeout())
	assert.Equal(t, 2*time.Second, EtcdConfig{DialTimeout: "2s"}.GetDialTimeout())
	assert.Equal(t, 5*time.Second, EtcdConfig{DialTimeout: "bad"}.GetDialTimeout())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Format: "json", Level: "warn"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Format: "json", Level: "warn"}.NewLogger(&buf).Warn("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LDFEED_DESCRIPTOR", "/etc/ldfeed/schema.json")
	t.Setenv("LDFEED_SOURCE_SQLITE", "/var/lib/ldfeed/movies.db")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/etc/ldfeed/schema.json", cfg.Descriptor)
	assert.Equal(t, "/var/lib/ldfeed/movies.db", cfg.Source.SQLite)
}
