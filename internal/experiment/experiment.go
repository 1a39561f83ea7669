// Package experiment runs one labelled-traffic experiment: captures start on
// the configured nodes, the sensor workers publish for the configured
// duration, then every capture is stopped and a manifest is written.
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/capture"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/health"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/metadata"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
)

// Traffic runs sensor workers until ctx ends.
type Traffic interface {
	RunAll(ctx context.Context, globalSeed int64, topicPrefix string) error
	RunSensors(ctx context.Context, names []string, globalSeed int64, topicPrefix string) error
}

// Captures starts and stops capture sessions.
type Captures interface {
	StartCapture(node capture.Node, iface string) []error
	StopCapture(node, iface string) int
	Cleanup() error
	Sessions() []capture.SessionInfo
}

// StatusReporter receives readiness changes, typically a health server.
type StatusReporter interface {
	SetServing(service string, serving bool)
}

// Config describes one run.
type Config struct {
	Seed        int64
	TopicPrefix string
	// Sensors limits the run to these names; empty runs the whole catalog
	Sensors  []string
	Duration time.Duration
	Nodes    []capture.Node
	// ManifestDir receives the run manifest; empty skips writing it
	ManifestDir string
	// WarmUp is the pause between starting captures and starting traffic
	WarmUp time.Duration
	// HostInterface lists its addresses first in the manifest host record
	HostInterface string
}

// SensorSeed records the derived seed of one sensor.
type SensorSeed struct {
	Key   string `json:"key"`
	Class int    `json:"class"`
	Seed  int64  `json:"seed"`
}

// Manifest documents a finished run so the capture files can be labelled.
type Manifest struct {
	RunID         string        `json:"run_id"`
	Started       time.Time     `json:"started"`
	Finished      time.Time     `json:"finished"`
	Seed          int64         `json:"seed"`
	TopicPrefix   string        `json:"topic_prefix"`
	Sensors       []SensorSeed  `json:"sensors"`
	Nodes         []string      `json:"nodes,omitempty"`
	CaptureFiles  []string      `json:"capture_files,omitempty"`
	CaptureErrors []string      `json:"capture_errors,omitempty"`
	Host          metadata.Host `json:"host"`
	Path          string        `json:"-"`
}

// Runner ties the traffic and capture sides together.
type Runner struct {
	catalog  *profile.Catalog
	traffic  Traffic
	captures Captures
	status   StatusReporter
	log      *logger.Logger
	now      func() time.Time
	host     func(preferredIface string) metadata.Host
}

// NewRunner creates a runner. captures and status may be nil.
func NewRunner(catalog *profile.Catalog, traffic Traffic, captures Captures, status StatusReporter, log *logger.Logger) *Runner {
	return &Runner{
		catalog:  catalog,
		traffic:  traffic,
		captures: captures,
		status:   status,
		log:      log,
		now:      time.Now,
		host:     metadata.CollectHost,
	}
}

// Run executes the experiment described by cfg and returns its manifest.
// Cancelling ctx ends the traffic phase early; captures are always stopped
// and cleaned up before Run returns.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Manifest, error) {
	m := &Manifest{
		RunID:       metadata.NewRunID(),
		Started:     r.now().UTC(),
		Seed:        cfg.Seed,
		TopicPrefix: cfg.TopicPrefix,
		Sensors:     r.sensorSeeds(cfg),
	}
	r.log.Info("[experiment] Run %s: %d sensors, %d nodes, duration %s, seed %d",
		m.RunID, len(m.Sensors), len(cfg.Nodes), cfg.Duration, cfg.Seed)

	if r.captures != nil {
		defer func() {
			if err := r.captures.Cleanup(); err != nil {
				r.log.Warn("[experiment] Capture cleanup: %v", err)
			}
		}()
		for _, node := range cfg.Nodes {
			m.Nodes = append(m.Nodes, node.String())
			for _, err := range r.captures.StartCapture(node, "") {
				m.CaptureErrors = append(m.CaptureErrors, err.Error())
			}
		}
		m.CaptureFiles = runFiles(r.captures.Sessions(), cfg.Nodes)
		r.setServing(health.ServiceCapture, true)
		if cfg.WarmUp > 0 {
			select {
			case <-time.After(cfg.WarmUp):
			case <-ctx.Done():
			}
		}
	}

	trafficCtx := ctx
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		trafficCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	r.setServing(health.ServiceTraffic, true)
	var err error
	if len(cfg.Sensors) > 0 {
		err = r.traffic.RunSensors(trafficCtx, cfg.Sensors, cfg.Seed, cfg.TopicPrefix)
	} else {
		err = r.traffic.RunAll(trafficCtx, cfg.Seed, cfg.TopicPrefix)
	}
	r.setServing(health.ServiceTraffic, false)

	if r.captures != nil {
		n := r.captures.StopCapture("", "")
		r.setServing(health.ServiceCapture, false)
		r.log.Info("[experiment] Stopped %d captures", n)
	}

	m.Finished = r.now().UTC()
	m.Host = r.host(cfg.HostInterface)
	if cfg.ManifestDir != "" {
		path, werr := writeManifest(cfg.ManifestDir, m)
		if werr != nil {
			err = errors.Join(err, werr)
		} else {
			m.Path = path
			r.log.Info("[experiment] Manifest written to %s", path)
		}
	}
	return m, err
}

// runFiles returns the capture files of the sessions running on nodes.
func runFiles(sessions []capture.SessionInfo, nodes []capture.Node) []string {
	names := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		names[n.Name] = true
	}
	var files []string
	for _, s := range sessions {
		if names[s.Node] {
			files = append(files, s.File)
		}
	}
	return files
}

func (r *Runner) setServing(service string, serving bool) {
	if r.status != nil {
		r.status.SetServing(service, serving)
	}
}

// sensorSeeds lists the sensors the run will start with their derived seeds.
func (r *Runner) sensorSeeds(cfg Config) []SensorSeed {
	var profiles []profile.Profile
	if len(cfg.Sensors) == 0 {
		for _, key := range r.catalog.AllKeys() {
			p, _ := r.catalog.Lookup(key)
			profiles = append(profiles, p)
		}
	} else {
		seen := map[string]bool{}
		for _, name := range cfg.Sensors {
			p, _ := r.catalog.Resolve(name)
			if !seen[p.Key] {
				seen[p.Key] = true
				profiles = append(profiles, p)
			}
		}
	}
	seeds := make([]SensorSeed, 0, len(profiles))
	for _, p := range profiles {
		seeds = append(seeds, SensorSeed{Key: p.Key, Class: int(p.Class), Seed: profile.DeriveSeed(cfg.Seed, p.Key)})
	}
	return seeds
}

func writeManifest(dir string, m *Manifest) (string, error) {
	if err := os.MkdirAll(dir, logger.DirMode); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("run_%s_%s.json", m.Started.Format(capture.FileTimestamp), m.RunID[:8]))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}
