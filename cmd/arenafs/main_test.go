package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenafs/internal/config"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"--image", "/tmp/a.img", "--size", "1MiB", "-v"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.img", f.image)
	assert.True(t, f.verbose)
	assert.True(t, f.set.Changed("size"))
	assert.False(t, f.set.Changed("mount"))

	_, err = parseFlags([]string{"stray"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arenafs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
image:
  path: /srv/file.img
  size: 2MiB
  backups: 3
mount:
  point: /mnt/file
`), 0o644))

	f, err := parseFlags([]string{"--config", path, "--mount", "/mnt/flag", "--backups", "0", "--allow-directory-moves"})
	require.NoError(t, err)
	cfg, err := loadConfig(f)
	require.NoError(t, err)

	assert.Equal(t, "/srv/file.img", cfg.Image.Path, "unset flag keeps file value")
	assert.Equal(t, "2MiB", cfg.Image.Size)
	assert.Equal(t, "/mnt/flag", cfg.Mount.Point)
	assert.Equal(t, 0, cfg.Image.Backups)
	assert.True(t, cfg.Engine.AllowDirectoryMoves)
	assert.Equal(t, "INFO", cfg.Log.Level)
}

func TestLoadConfigRejectsSmallArena(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	f, err := parseFlags([]string{"--size", "100B"})
	require.NoError(t, err)
	_, err = loadConfig(f)
	assert.ErrorContains(t, err, "below the minimum")
}

func TestCheckPersistedImage(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	cfg := config.Default()
	cfg.Image.Path = filepath.Join(t.TempDir(), "fs.img")
	cfg.Image.Size = "64KiB"
	cfg.Image.Backups = 0

	e, manager, err := openEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Mkdir("/docs"))
	require.NoError(t, e.Mknod("/docs/a"))
	_, err = e.Write("/docs/a", []byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, manager.Close())

	e, manager, err = openEngine(cfg)
	require.NoError(t, err)
	defer manager.Close()

	var out bytes.Buffer
	require.NoError(t, runCheck(e, &out))
	assert.Contains(t, out.String(), "image is consistent")

	names, err := e.ReadDir("/docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func TestRun(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	img := filepath.Join(t.TempDir(), "fs.img")

	assert.NoError(t, run([]string{"--check", "--image", img, "--size", "64KiB", "--backups", "0"}))
	assert.ErrorContains(t, run([]string{"--image", img, "--size", "64KiB"}), "mount point is required")
	assert.Error(t, run([]string{"--check", "--image", img, "--size", "128KiB"}), "size mismatch")
}
