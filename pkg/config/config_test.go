package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Reset()
}

func TestLoadAppliesDefaults(t *testing.T) {
	resetViper(t)

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 4, c.Contexts)
	require.True(t, c.Bidir)
	require.False(t, c.NAT)
	require.Equal(t, 30000, c.IdleTimeoutMs)
	require.True(t, c.ReportTLS)
	require.Equal(t, "info", c.Verbosity)
}

func TestLoadReadsConfigFile(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "tlsflowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contexts: 8\nreport_dns: true\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, c.Contexts)
	require.True(t, c.ReportDNS)
	// Unset keys still take their default.
	require.True(t, c.Bidir)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "tlsflowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contexts: 8\n"), 0o644))

	t.Setenv("TLSFLOW_CONTEXTS", "16")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, c.Contexts)
}

func TestLoadRejectsZeroContexts(t *testing.T) {
	resetViper(t)

	path := filepath.Join(t.TempDir(), "tlsflowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contexts: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingConfigFileErrors(t *testing.T) {
	resetViper(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSetDefaultsPopulatesEveryKey(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	require.Equal(t, 4, v.GetInt(Contexts))
	require.Equal(t, 10, v.GetInt(NumPkts))
	require.False(t, v.GetBool(OutputCompress))
}
