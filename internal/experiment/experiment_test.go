package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/capture"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/health"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/metadata"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeTraffic struct {
	rec      *recorder
	names    []string
	deadline bool
	err      error
}

func (f *fakeTraffic) RunAll(ctx context.Context, _ int64, _ string) error {
	f.rec.add("traffic:all")
	_, f.deadline = ctx.Deadline()
	<-ctx.Done()
	return f.err
}

func (f *fakeTraffic) RunSensors(ctx context.Context, names []string, _ int64, _ string) error {
	f.rec.add("traffic:sensors")
	f.names = names
	_, f.deadline = ctx.Deadline()
	<-ctx.Done()
	return f.err
}

type fakeCaptures struct {
	rec      *recorder
	startErr map[string]error
	sessions []capture.SessionInfo
}

func (f *fakeCaptures) StartCapture(node capture.Node, iface string) []error {
	f.rec.add("start:" + node.Name)
	if err, ok := f.startErr[node.Name]; ok {
		return []error{err}
	}
	f.sessions = append(f.sessions, capture.SessionInfo{
		Node:      node.Name,
		Interface: node.Name + "-eth0",
		File:      "/captures/" + node.Name + "_" + node.Name + "-eth0_20250101_000000.pcap",
	})
	return nil
}

func (f *fakeCaptures) StopCapture(node, iface string) int {
	f.rec.add("stop")
	return 2
}

func (f *fakeCaptures) Cleanup() error {
	f.rec.add("cleanup")
	return nil
}

func (f *fakeCaptures) Sessions() []capture.SessionInfo {
	return append([]capture.SessionInfo(nil), f.sessions...)
}

type fakeStatus struct {
	rec *recorder
}

func (f *fakeStatus) SetServing(service string, serving bool) {
	if serving {
		f.rec.add(service + ":up")
	} else {
		f.rec.add(service + ":down")
	}
}

func newTestRunner(tr Traffic, caps Captures, status StatusReporter) *Runner {
	r := NewRunner(profile.DefaultCatalog(), tr, caps, status, logger.Discard())
	r.host = func(preferredIface string) metadata.Host {
		return metadata.Host{MachineID: "test", OSName: "linux", HostIPs: []string{preferredIface}}
	}
	return r
}

func TestRunner_Order(t *testing.T) {
	rec := &recorder{}
	tr := &fakeTraffic{rec: rec}
	caps := &fakeCaptures{
		rec:      rec,
		startErr: map[string]error{"s2": errors.New("s2/eth0: spawn failed")},
		// left running by an earlier caller of the same manager
		sessions: []capture.SessionInfo{{Node: "h9", Interface: "eth0", File: "/captures/h9_eth0_20200101_000000.pcap"}},
	}
	r := newTestRunner(tr, caps, &fakeStatus{rec: rec})

	m, err := r.Run(context.Background(), Config{
		Seed:        2025,
		TopicPrefix: "lab",
		Duration:    50 * time.Millisecond,
		Nodes:       []capture.Node{{Name: "s1"}, {Name: "s2", Namespace: "ns2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:s1", "start:s2", health.ServiceCapture + ":up",
		health.ServiceTraffic + ":up", "traffic:all", health.ServiceTraffic + ":down",
		"stop", health.ServiceCapture + ":down", "cleanup",
	}, rec.list())
	assert.True(t, tr.deadline, "traffic runs under the experiment duration")

	assert.Len(t, m.RunID, 36)
	assert.Equal(t, int64(2025), m.Seed)
	assert.Equal(t, []string{"s1", "s2@ns2"}, m.Nodes)
	assert.Equal(t, []string{"s2/eth0: spawn failed"}, m.CaptureErrors)
	assert.Equal(t, []string{"/captures/s1_s1-eth0_20250101_000000.pcap"}, m.CaptureFiles)
	require.Len(t, m.Sensors, 14)
	assert.Equal(t, SensorSeed{Key: "ecg_monitor", Class: 1, Seed: profile.DeriveSeed(2025, "ecg_monitor")}, m.Sensors[0])
	assert.False(t, m.Finished.Before(m.Started))
}

func TestRunner_SensorSubset(t *testing.T) {
	rec := &recorder{}
	tr := &fakeTraffic{rec: rec}
	r := newTestRunner(tr, nil, nil)

	m, err := r.Run(context.Background(), Config{Seed: 1, Sensors: []string{"ecg", "ecg_monitor", "co"}, Duration: 10 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, []string{"traffic:sensors"}, rec.list())
	assert.Equal(t, []string{"ecg", "ecg_monitor", "co"}, tr.names)
	require.Len(t, m.Sensors, 2)
	assert.Equal(t, "ecg_monitor", m.Sensors[0].Key)
	assert.Equal(t, "co_sensor", m.Sensors[1].Key)
}

func TestRunner_CancelStopsCaptures(t *testing.T) {
	rec := &recorder{}
	caps := &fakeCaptures{rec: rec}
	r := newTestRunner(&fakeTraffic{rec: rec}, caps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, Config{Nodes: []capture.Node{{Name: "s1"}}})
		done <- err
	}()

	require.Eventually(t, func() bool {
		for _, e := range rec.list() {
			if e == "traffic:all" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	events := rec.list()
	assert.Equal(t, []string{"stop", "cleanup"}, events[len(events)-2:])
}

func TestRunner_WritesManifest(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(&fakeTraffic{rec: &recorder{}}, nil, nil)

	m, err := r.Run(context.Background(), Config{Seed: 7, TopicPrefix: "icu", Duration: 10 * time.Millisecond, ManifestDir: dir, HostInterface: "s1-eth0"})
	require.NoError(t, err)
	require.NotEmpty(t, m.Path)

	data, err := os.ReadFile(m.Path)
	require.NoError(t, err)
	var decoded Manifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m.RunID, decoded.RunID)
	assert.Equal(t, "icu", decoded.TopicPrefix)
	assert.Equal(t, "test", decoded.Host.MachineID)
	assert.Equal(t, []string{"s1-eth0"}, decoded.Host.HostIPs)
	assert.Len(t, decoded.Sensors, 14)
}

func TestRunner_TrafficErrorIsReturned(t *testing.T) {
	boom := errors.New("no broker")
	rec := &recorder{}
	r := newTestRunner(&fakeTraffic{rec: rec, err: boom}, &fakeCaptures{rec: rec}, nil)

	_, err := r.Run(context.Background(), Config{Duration: 10 * time.Millisecond})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, rec.list(), "cleanup")
}
