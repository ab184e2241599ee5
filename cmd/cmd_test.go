package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/dgawatch/internal/core"
)

func execute(t *testing.T, args ...string) (string, core.ExitCode) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	code := Execute()
	return out.String(), code
}

func TestVersionCommand(t *testing.T) {
	out, code := execute(t, "version")
	assert.Equal(t, core.ExitSuccess, code)
	assert.Contains(t, out, "dgawatch "+version)
}

func TestConfigCommand_PrintsYAML(t *testing.T) {
	out, code := execute(t, "config", "--dry-run", "-i", "eth0", "--memory", "32")
	require.Equal(t, core.ExitSuccess, code, out)

	var doc struct {
		Dgawatch struct {
			Interface string `yaml:"interface"`
			MemoryMB  int    `yaml:"memory_mb"`
			Store     struct {
				Type string `yaml:"type"`
			} `yaml:"store"`
		} `yaml:"dgawatch"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "eth0", doc.Dgawatch.Interface)
	assert.Equal(t, 32, doc.Dgawatch.MemoryMB)
	assert.Equal(t, "memory", doc.Dgawatch.Store.Type)
}

func TestConfigCommand_Check(t *testing.T) {
	out, code := execute(t, "config", "--check", "--dry-run", "-i", "eth0", "--memory", "32")
	assert.Equal(t, core.ExitSuccess, code)
	assert.Contains(t, out, "VALID")
	assert.Contains(t, out, "32 MiB")
}

func TestConfigCommand_InvalidExitsWithConfigCode(t *testing.T) {
	_, code := execute(t, "config", "--source", "file")
	assert.Equal(t, core.ExitConfigCheckFailure, code)
}

func TestConfigCommand_MissingFile(t *testing.T) {
	_, code := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yml"), "config")
	assert.Equal(t, core.ExitConfigCheckFailure, code)
	configFile = ""
}

func TestUnknownFlagExitsWithHelpCode(t *testing.T) {
	_, code := execute(t, "version", "--no-such-flag")
	assert.Equal(t, core.ExitHelp, code)
}

func TestStopCommand_NotRunning(t *testing.T) {
	_, code := execute(t, "stop", "--pidfile", filepath.Join(t.TempDir(), "dgawatch.pid"))
	assert.Equal(t, core.ExitFailure, code)
}

func TestConfigCommand_CheckRejectsMalformedBrokerURL(t *testing.T) {
	out, code := execute(t, "config", "--check", "--dry-run=false", "--source", "pcap", "-i", "eth0",
		"--db", "mongodb://localhost:27017", "--db-name", "dga",
		"--amqp", "amqp://guest@localhost/%2F", "--queue", "domains")
	assert.Equal(t, core.ExitConfigCheckFailure, code, out)
	assert.NotContains(t, out, "VALID")
}
