package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectHost(t *testing.T) {
	h := CollectHost("any")

	assert.Len(t, h.MachineID, 64, "machine_id should be a SHA-256 hex string")
	assert.NotEmpty(t, h.OSName)
	assert.NotEmpty(t, h.OSVersion)
	assert.NotEmpty(t, h.Architecture)
	assert.NotEmpty(t, h.ToolVersion)
	assert.LessOrEqual(t, len(h.HostIPs), maxHostIPs)
	for _, ip := range h.HostIPs {
		assert.Contains(t, ip, ".", "host IPs are IPv4")
		assert.NotContains(t, ip, "127.", "loopback addresses are skipped")
	}
}

func TestMachineID_Stable(t *testing.T) {
	assert.Equal(t, machineID(), machineID())
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestLinuxVersion(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"name and version", "NAME=\"Ubuntu\"\nVERSION=\"22.04.4 LTS (Jammy Jellyfish)\"\nID=ubuntu\n", "Ubuntu 22.04.4 LTS (Jammy Jellyfish)"},
		{"name only", "NAME=\"Arch Linux\"\nID=arch\n", "Arch Linux"},
		{"neither", "ID=unknown\n", "Linux"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "os-release-"+string(rune('a'+i)))
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			assert.Equal(t, tt.want, linuxVersion(path))
		})
	}
	assert.Equal(t, "Linux", linuxVersion(filepath.Join(dir, "missing")))
}
