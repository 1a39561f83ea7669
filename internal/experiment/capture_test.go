//go:build linux || darwin

package experiment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/capture"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
)

func TestRunner_ManifestListsOnlyThisRunsCaptures(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "captures")
	require.NoError(t, os.MkdirAll(out, 0755))
	stale := filepath.Join(out, "h9_eth0_20200101_000000.pcap")
	require.NoError(t, os.WriteFile(stale, []byte("earlier run"), 0644))

	// stands in for tcpdump: ignores its arguments and runs until signalled
	tool := filepath.Join(dir, "fakedump")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\nexec sleep 30\n"), 0755))

	mgr := capture.NewManager(capture.Config{OutputDir: out, Tool: tool, StopGrace: time.Second}, logger.Discard())
	r := newTestRunner(&fakeTraffic{rec: &recorder{}}, mgr, nil)

	m, err := r.Run(context.Background(), Config{
		Seed:     2025,
		Duration: 100 * time.Millisecond,
		Nodes:    []capture.Node{{Name: "s1", Interfaces: []string{"eth0"}}},
	})
	require.NoError(t, err)

	require.Len(t, m.CaptureFiles, 1)
	assert.NotContains(t, m.CaptureFiles, stale)
	assert.Equal(t, out, filepath.Dir(m.CaptureFiles[0]))
	assert.True(t, strings.HasPrefix(filepath.Base(m.CaptureFiles[0]), "s1_eth0_"), m.CaptureFiles[0])
	assert.Empty(t, mgr.Sessions())
}
