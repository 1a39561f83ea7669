package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/metrics"
)

// commandContext is swapped in tests to avoid running real capture tools.
var commandContext = exec.CommandContext

type session struct {
	key     Key
	file    string
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
}

// Manager tracks capture processes by node and interface. It is safe for
// concurrent use.
type Manager struct {
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[Key]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records capture activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// NewManager creates a manager writing capture files into cfg.OutputDir.
func NewManager(cfg Config, log *logger.Logger, opts ...Option) *Manager {
	if cfg.Tool == "" {
		cfg.Tool = DefaultTool
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "captures"
	}
	if abs, err := filepath.Abs(cfg.OutputDir); err == nil {
		cfg.OutputDir = abs
	}
	m := &Manager{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sessions: make(map[Key]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OutputDir returns the directory capture files are written to.
func (m *Manager) OutputDir() string {
	return m.cfg.OutputDir
}

// StartCapture starts a capture on iface of node, or on every interface of
// node when iface is empty. Pairs that are already being captured are left
// alone. Failures are reported per interface and never prevent the other
// interfaces from starting.
func (m *Manager) StartCapture(node Node, iface string) []error {
	var ifaces []string
	if iface != "" {
		ifaces = []string{iface}
	} else {
		var err error
		ifaces, err = m.nodeInterfaces(node)
		if err != nil {
			m.log.Error("[capture] %s: %v", node.Name, err)
			return []error{fmt.Errorf("node %s: %w", node.Name, err)}
		}
		if len(ifaces) == 0 {
			m.log.Warn("[capture] %s has no interfaces to capture", node.Name)
			return nil
		}
	}

	if err := os.MkdirAll(m.cfg.OutputDir, logger.DirMode); err != nil {
		m.log.Error("[capture] Failed to create output directory: %v", err)
		return []error{fmt.Errorf("create output directory: %w", err)}
	}

	var errs []error
	for _, name := range ifaces {
		if err := m.start(node, name); err != nil {
			m.log.Error("[capture] %s/%s: %v", node.Name, name, err)
			m.metrics.CaptureFailed(node.Name)
			errs = append(errs, fmt.Errorf("%s/%s: %w", node.Name, name, err))
		}
	}
	return errs
}

func (m *Manager) nodeInterfaces(node Node) ([]string, error) {
	if len(node.Interfaces) > 0 {
		return node.Interfaces, nil
	}
	if node.Namespace != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return namespaceInterfaces(ctx, node.Namespace)
	}
	return hostInterfaces()
}

func (m *Manager) start(node Node, iface string) error {
	if err := ValidateInterfaceName(iface); err != nil {
		return fmt.Errorf("%w '%s': %v", ErrInvalidInterface, iface, err)
	}
	key := Key{Node: node.Name, Interface: iface}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[key]; ok {
		m.log.Debug("[capture] %s/%s already capturing", node.Name, iface)
		return nil
	}

	started := m.now()
	file := freePath(filepath.Join(m.cfg.OutputDir, fmt.Sprintf("%s_%s_%s", node.Name, iface, started.Format(FileTimestamp))))
	name, args := m.command(node, iface, file)

	// the process outlives this call; it is stopped through its process group
	cmd := commandContext(context.Background(), name, args...)
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	s := &session{key: key, file: file, cmd: cmd, started: started, done: make(chan struct{})}
	m.sessions[key] = s
	m.metrics.CaptureStarted(node.Name)
	m.metrics.SetCaptureSessions(len(m.sessions))
	m.log.Info("[capture] Started %s on %s/%s (pid %d) -> %s", m.cfg.Tool, node.Name, iface, cmd.Process.Pid, file)

	go m.wait(s)
	return nil
}

// freePath returns base.pcap, or base_<n>.pcap when a pair restarted within
// the same second already wrote base.pcap.
func freePath(base string) string {
	path := base + ".pcap"
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = fmt.Sprintf("%s_%d.pcap", base, n)
	}
}

// command builds the capture invocation for iface of node.
func (m *Manager) command(node Node, iface, file string) (string, []string) {
	args := []string{"-i", iface, "-w", file}
	if m.cfg.SnapLen > 0 {
		args = append(args, "-s", strconv.Itoa(m.cfg.SnapLen))
	}
	if m.cfg.Filter != "" {
		args = append(args, m.cfg.Filter)
	}
	if node.Namespace != "" {
		return "ip", append([]string{"netns", "exec", node.Namespace, m.cfg.Tool}, args...)
	}
	return m.cfg.Tool, args
}

// wait reaps the process and drops sessions that exited on their own.
func (m *Manager) wait(s *session) {
	err := s.cmd.Wait()
	close(s.done)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
		m.metrics.SetCaptureSessions(len(m.sessions))
		m.log.Warn("[capture] %s/%s exited unexpectedly: %v", s.key.Node, s.key.Interface, err)
	}
}

// StopCapture stops the sessions of node, limited to iface when given, or
// every session when node is empty. Missing sessions are ignored. It returns
// the number of sessions stopped.
func (m *Manager) StopCapture(node, iface string) int {
	m.mu.Lock()
	var victims []*session
	for key, s := range m.sessions {
		if node != "" && key.Node != node {
			continue
		}
		if iface != "" && key.Interface != iface {
			continue
		}
		victims = append(victims, s)
		delete(m.sessions, key)
	}
	m.metrics.SetCaptureSessions(len(m.sessions))
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range victims {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			m.terminate(s)
		}(s)
	}
	wg.Wait()

	if m.cfg.Summarize {
		for _, s := range victims {
			m.summarize(s.file)
		}
	}
	return len(victims)
}

// terminate sends SIGTERM to the session's process group and escalates to
// SIGKILL once the grace period has passed.
func (m *Manager) terminate(s *session) {
	pid := s.cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		m.log.Debug("[capture] SIGTERM %s/%s (pid %d): %v", s.key.Node, s.key.Interface, pid, err)
	}
	select {
	case <-s.done:
	case <-time.After(m.cfg.StopGrace):
		m.log.Warn("[capture] %s/%s did not exit within %s, killing", s.key.Node, s.key.Interface, m.cfg.StopGrace)
		if err := killGroup(pid); err != nil {
			m.log.Debug("[capture] SIGKILL %s/%s (pid %d): %v", s.key.Node, s.key.Interface, pid, err)
		}
		<-s.done
	}
	m.log.Info("[capture] Stopped %s/%s after %s", s.key.Node, s.key.Interface, m.now().Sub(s.started).Round(time.Second))
}

func (m *Manager) summarize(file string) {
	info, err := os.Stat(file)
	if err != nil || info.Size() == 0 {
		return
	}
	stats, err := Summarize(file)
	if err != nil {
		m.log.Warn("[capture] Could not read %s: %v", file, err)
		return
	}
	m.log.Info("[capture] %s: %d packets, %d bytes", filepath.Base(file), stats.TotalPackets, stats.TotalBytes)
}

// Cleanup stops every tracked session and then terminates capture processes
// left behind in the output directory by earlier runs.
func (m *Manager) Cleanup() error {
	if n := m.StopCapture("", ""); n > 0 {
		m.log.Info("[capture] Stopped %d capture sessions", n)
	}
	return m.killOrphans()
}

func (m *Manager) killOrphans() error {
	dir := m.cfg.OutputDir
	pattern := regexp.QuoteMeta(m.cfg.Tool) + ".* -w " + regexp.QuoteMeta(dir)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := commandContext(ctx, "pkill", "-f", pattern).Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		m.log.Info("[capture] Terminated orphaned capture processes in %s", dir)
		return nil
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		// no process matched
		return nil
	default:
		return fmt.Errorf("pkill capture processes: %w", err)
	}
}

// IsCapturing reports whether a session exists for the pair.
func (m *Manager) IsCapturing(node, iface string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[Key{Node: node, Interface: iface}]
	return ok
}

// Sessions returns the running sessions ordered by node and interface.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for key, s := range m.sessions {
		out = append(out, SessionInfo{
			Node:      key.Node,
			Interface: key.Interface,
			File:      s.file,
			PID:       s.cmd.Process.Pid,
			Started:   s.started,
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Interface < out[j].Interface
	})
	return out
}
