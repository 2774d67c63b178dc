package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootstrapYAML = `
ipcp_name: boot-1
mode: bootstrap
dif_name: test-dif
address: 1001
address_pool_start: 2000
address_pool_end: 2999
shim:
  bind_endpoint: "0.0.0.0:7638"
`

const memberYAML = `
ipcp_name: member-1
mode: member
dif_name: test-dif
bootstrap_peers:
  - rina_addr: 1001
    endpoint: "127.0.0.1:7638"
shim:
  bind_endpoint: "0.0.0.0:0"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadBootstrapConfig(t *testing.T) {
	path := writeTemp(t, bootstrapYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeBootstrap, cfg.Mode)
	assert.EqualValues(t, 1001, cfg.Address)
	assert.EqualValues(t, 2000, cfg.AddressPoolStart)
	assert.EqualValues(t, 2999, cfg.AddressPoolEnd)
}

func TestLoadMemberConfig(t *testing.T) {
	path := writeTemp(t, memberYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeMember, cfg.Mode)
	require.Len(t, cfg.BootstrapPeers, 1)
	assert.EqualValues(t, 1001, cfg.BootstrapPeers[0].RinaAddr)
}

func TestConfigValidateRejectsBadMode(t *testing.T) {
	cfg := Config{IpcpName: "x", DifName: "d", Mode: "nonsense", Shim: ShimCfg{BindEndpoint: "127.0.0.1:1"}}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsBootstrapWithoutAddress(t *testing.T) {
	cfg := Config{
		IpcpName:         "x",
		DifName:          "d",
		Mode:             ModeBootstrap,
		AddressPoolStart: 10,
		AddressPoolEnd:   20,
		Shim:             ShimCfg{BindEndpoint: "127.0.0.1:1"},
	}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsMemberWithoutPeers(t *testing.T) {
	cfg := Config{IpcpName: "x", DifName: "d", Mode: ModeMember, Shim: ShimCfg{BindEndpoint: "127.0.0.1:1"}}
	assert.Error(t, cfg.Validate())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, DefaultEnrolmentTimeout, cfg.EnrolmentTimeout())
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries())
	assert.Equal(t, DefaultInitialBackoff, cfg.InitialBackoff())
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval())
	assert.Equal(t, DefaultConnectionTimeout, cfg.ConnectionTimeout())
	assert.Equal(t, DefaultChangeLogCapacity, cfg.ChangeLogCapacity())
}
