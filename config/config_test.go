package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.True(t, cfg.AutoStop)
	assert.Equal(t, time.Second, cfg.GraceDelay)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 4, cfg.TokenBytes)
	assert.Equal(t, ArchiveZip, cfg.ArchiveFormat)
	assert.Zero(t, cfg.MaxUploadSize)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := "port: 4100\nauto_stop: false\ngrace_delay: 250ms\narchive_format: tar.lz4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dhara.yaml"), []byte(yaml), 0644))
	t.Setenv("DHARA_TOKEN_BYTES", "8")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Port)
	assert.False(t, cfg.AutoStop)
	assert.Equal(t, 250*time.Millisecond, cfg.GraceDelay)
	assert.Equal(t, ArchiveTarLZ4, cfg.ArchiveFormat)
	assert.Equal(t, 8, cfg.TokenBytes)
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"short token", "token_bytes: 2\n"},
		{"bad format", "archive_format: rar\n"},
		{"bad port", "port: 70000\n"},
		{"zero port", "port: 0\n"},
		{"malformed", "port: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "dhara.yaml"), []byte(tt.yaml), 0644))
			_, err := LoadConfig(dir)
			assert.Error(t, err)
		})
	}
}

func TestUploadDir(t *testing.T) {
	cfg := &AppConfig{}
	wd, err := os.Getwd()
	require.NoError(t, err)

	dir, err := cfg.UploadDir()
	require.NoError(t, err)
	assert.Equal(t, wd, dir)

	base := t.TempDir()
	cfg.UploadBaseDir = base
	dir, err = cfg.UploadDir()
	require.NoError(t, err)
	assert.Equal(t, base, dir)
}
