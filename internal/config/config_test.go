package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
mount:
  source: /srv/data
  mountpoint: /mnt/data
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, "/srv/data", cfg.Mount.Source)
	assert.Equal(t, "/mnt/data", cfg.Mount.Mountpoint)
	assert.Empty(t, cfg.Mount.Options)
	assert.Equal(t, DefaultInterval, cfg.Writeback.Interval)
	assert.Equal(t, int64(DefaultPagesPerPass), cfg.Writeback.PagesPerPass)
	assert.NotEmpty(t, cfg.State.Path)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, DefaultAdminListen, cfg.Admin.Listen)
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := writeConfig(t, tmp, `
logging:
  level: debug
mount:
  source: /srv/data
  mountpoint: /mnt/data
  options: "delayupdatetime=500;wbnice"
  allow_other: true
writeback:
  interval: 250ms
  pages_per_pass: 4096
state:
  path: `+filepath.ToSlash(tmp)+`/state.json
admin:
  enabled: true
  listen: "localhost:9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "delayupdatetime=500;wbnice", cfg.Mount.Options)
	assert.True(t, cfg.Mount.AllowOther)
	assert.Equal(t, 250*time.Millisecond, cfg.Writeback.Interval)
	assert.Equal(t, int64(4096), cfg.Writeback.PagesPerPass)
	assert.Equal(t, filepath.ToSlash(tmp)+"/state.json", cfg.State.Path)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "localhost:9000", cfg.Admin.Listen)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig)
	t.Setenv("EXTENDFS_MOUNT_OPTIONS", "wbnice")
	t.Setenv("EXTENDFS_WRITEBACK_INTERVAL", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wbnice", cfg.Mount.Options)
	assert.Equal(t, 2*time.Second, cfg.Writeback.Interval)
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), minimalConfig)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("options", "o", "", "")
	require.NoError(t, flags.Parse([]string{"-o", "delayupdatetime=10"}))

	l := NewLoader(path)
	require.NoError(t, l.BindFlag("mount.options", flags.Lookup("options")))
	require.Error(t, l.BindFlag("mount.source", flags.Lookup("missing")))

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "delayupdatetime=10", cfg.Mount.Options)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("EXTENDFS_MOUNT_SOURCE", "/a")
	t.Setenv("EXTENDFS_MOUNT_MOUNTPOINT", "/b")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/a", cfg.Mount.Source)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"MissingSource", "mount:\n  mountpoint: /mnt\n"},
		{"BadLevel", minimalConfig + "logging:\n  level: loud\n"},
		{"ZeroInterval", minimalConfig + "writeback:\n  interval: 0s\n"},
		{"NegativePages", minimalConfig + "writeback:\n  pages_per_pass: -1\n"},
		{"BadListen", minimalConfig + "admin:\n  listen: nowhere\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), "mount: [unterminated"))
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	tmp := t.TempDir()
	path := writeConfig(t, tmp, minimalConfig)
	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		options []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Watch(ctx, func(cfg *Config) {
			mu.Lock()
			options = append(options, cfg.Mount.Options)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, tmp, minimalConfig+"  options: wbnice\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(options) > 0 && options[len(options)-1] == "wbnice"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatchWithoutFile(t *testing.T) {
	assert.Error(t, NewLoader("").Watch(context.Background(), func(*Config) {}))
}
