package config

import (
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Address, cfg.Address)
	assert.Equal(t, Defaults().GlobalMemcacheLimit, cfg.GlobalMemcacheLimit)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regiond.yaml")
	yaml := "hbase:\n  regionserver:\n    address: \"10.0.0.5:60020\"\n  rootdir: /data/regiond\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:60020", cfg.Address)
	assert.Equal(t, "/data/regiond", cfg.RootDir)
	// Unspecified fields keep their defaults.
	assert.Equal(t, Defaults().HandlerCount, cfg.HandlerCount)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("REGIOND_HBASE__REGIONSERVER__ADDRESS", "192.168.1.1:60020")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1:60020", cfg.Address)
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	t.Setenv("REGIOND_HBASE__REGIONSERVER__ADDRESS", "192.168.1.1:60020")

	flags := flag.NewFlagSet("start", flag.ContinueOnError)
	flags.String("bind", "", "")
	require.NoError(t, flags.Set("bind", "172.16.0.9:60020"))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "172.16.0.9:60020", cfg.Address)
}

func TestLoadIgnoresUnmappedFlags(t *testing.T) {
	flags := flag.NewFlagSet("start", flag.ContinueOnError)
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Set("log-level", "debug"))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Address, cfg.Address)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Address = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.HandlerCount = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.RootDir = ""
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.GlobalMemcacheLimitLowMark = cfg.GlobalMemcacheLimit + 1
	assert.Error(t, cfg.Validate())
}

func TestApplyConfigMapMergesOverTop(t *testing.T) {
	cfg := Defaults()
	err := cfg.ApplyConfigMap(map[string]string{
		"hbase.rootdir": "/mnt/regiond-data",
	})
	require.NoError(t, err)
	assert.Equal(t, "/mnt/regiond-data", cfg.RootDir)
	// Fields absent from the config_map are untouched.
	assert.Equal(t, Defaults().Address, cfg.Address)
}

func TestApplyConfigMapRejectsInvalidResult(t *testing.T) {
	cfg := Defaults()
	err := cfg.ApplyConfigMap(map[string]string{
		"hbase.rootdir": "",
	})
	assert.Error(t, err)
}
