package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/capture"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/channel"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
)

// DefaultSeed is the experiment seed used when none is configured.
const DefaultSeed = 2025

// Config represents the application configuration
type Config struct {
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Broker     BrokerConfig     `json:"broker" yaml:"broker"`
	Traffic    TrafficConfig    `json:"traffic" yaml:"traffic"`
	Capture    CaptureConfig    `json:"capture" yaml:"capture"`
	Experiment ExperimentConfig `json:"experiment" yaml:"experiment"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Health     HealthConfig     `json:"health" yaml:"health"`
}

// LoggingConfig controls the shared log file
type LoggingConfig struct {
	// Level is the minimum log level to output (debug, info, warn, error)
	Level string `json:"level" yaml:"level"`
	// File is the path to the log file. If empty, logs to stdout only
	File string `json:"file" yaml:"file"`
	// MaxSizeMB is the size that triggers rotation
	MaxSizeMB        int `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups       int `json:"max_backups" yaml:"max_backups"`
	LogRetentionDays int `json:"log_retention_days" yaml:"log_retention_days"`
}

// BrokerConfig describes the NATS broker
type BrokerConfig struct {
	Host             string `json:"host" yaml:"host"`
	Port             int    `json:"port" yaml:"port"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	PublishTimeoutMS int    `json:"publish_timeout_ms" yaml:"publish_timeout_ms"`
	MaxReconnects    int    `json:"max_reconnects" yaml:"max_reconnects"`
	// JetStream makes at-least-once publishes wait for a stream ack
	JetStream bool   `json:"jetstream" yaml:"jetstream"`
	Stream    string `json:"stream" yaml:"stream"`
}

// TrafficConfig controls the sensor workers
type TrafficConfig struct {
	Seed        int64  `json:"seed" yaml:"seed"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	// Sensors lists sensor names or aliases; empty means every sensor
	Sensors              []string `json:"sensors" yaml:"sensors"`
	AdminIntervalSeconds int      `json:"admin_interval_seconds" yaml:"admin_interval_seconds"`
	// SensorLogDir enables <dir>/<key>_publisher.log files
	SensorLogDir string `json:"sensor_log_dir" yaml:"sensor_log_dir"`
	// Count stops each worker after this many readings; 0 runs until stopped
	Count int `json:"count" yaml:"count"`
}

// NodeConfig is one capture node
type NodeConfig struct {
	Name       string   `json:"name" yaml:"name"`
	Namespace  string   `json:"namespace" yaml:"namespace"`
	Interfaces []string `json:"interfaces" yaml:"interfaces"`
}

// CaptureConfig controls packet capture
type CaptureConfig struct {
	// OutputDir is where capture files are stored
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	Tool      string `json:"tool" yaml:"tool"`
	// Filter is a BPF expression passed to the capture tool
	Filter           string `json:"filter" yaml:"filter"`
	SnapLen          int    `json:"snaplen" yaml:"snaplen"`
	StopGraceSeconds int    `json:"stop_grace_seconds" yaml:"stop_grace_seconds"`
	Summarize        bool   `json:"summarize" yaml:"summarize"`
	// Interface is a comma-separated list captured on the local host when no
	// nodes are configured. Empty or "all" captures every non-loopback
	// interface; "any" must be asked for explicitly
	Interface string       `json:"interface" yaml:"interface"`
	Nodes     []NodeConfig `json:"nodes" yaml:"nodes"`
}

// ExperimentConfig controls the experiment subcommand
type ExperimentConfig struct {
	DurationSeconds int    `json:"duration_seconds" yaml:"duration_seconds"`
	WarmUpSeconds   int    `json:"warm_up_seconds" yaml:"warm_up_seconds"`
	ManifestDir     string `json:"manifest_dir" yaml:"manifest_dir"`
	// Bundle zips logs, captures and manifests after the run
	Bundle bool `json:"bundle" yaml:"bundle"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// HealthConfig enables the gRPC health service when Addr is set
type HealthConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ValidateAndSetDefaults()
	return cfg
}

// LoadConfig loads configuration from a JSON or YAML file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ValidateAndSetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &config, nil
}

// ValidateAndSetDefaults fills in every unset field
func (c *Config) ValidateAndSetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.LogRetentionDays == 0 {
		c.Logging.LogRetentionDays = 7
	}

	if c.Broker.Host == "" {
		c.Broker.Host = "127.0.0.1"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = channel.DefaultPort
	}
	if c.Broker.ConnectTimeoutMS == 0 {
		c.Broker.ConnectTimeoutMS = 5000
	}
	if c.Broker.PublishTimeoutMS == 0 {
		c.Broker.PublishTimeoutMS = 5000
	}
	if c.Broker.Stream == "" {
		c.Broker.Stream = "SENSORS"
	}

	if c.Traffic.Seed == 0 {
		c.Traffic.Seed = DefaultSeed
	}
	if c.Traffic.TopicPrefix == "" {
		c.Traffic.TopicPrefix = "icu"
	}
	if c.Traffic.AdminIntervalSeconds == 0 {
		c.Traffic.AdminIntervalSeconds = 15
	}

	if c.Capture.OutputDir == "" {
		c.Capture.OutputDir = "captures"
	}
	if c.Capture.Tool == "" {
		c.Capture.Tool = capture.DefaultTool
	}
	if c.Capture.StopGraceSeconds == 0 {
		c.Capture.StopGraceSeconds = int(capture.DefaultStopGrace / time.Second)
	}

	if c.Experiment.DurationSeconds == 0 {
		c.Experiment.DurationSeconds = 60
	}
	if c.Experiment.ManifestDir == "" {
		c.Experiment.ManifestDir = "manifests"
	}
}

// Validate reports the first setting that cannot work
func (c *Config) Validate() error {
	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d out of range", c.Broker.Port)
	}
	if c.Broker.ConnectTimeoutMS < 0 || c.Broker.PublishTimeoutMS < 0 {
		return fmt.Errorf("broker timeouts must not be negative")
	}
	if c.Traffic.AdminIntervalSeconds < 0 {
		return fmt.Errorf("traffic.admin_interval_seconds must not be negative")
	}
	if c.Traffic.Count < 0 {
		return fmt.Errorf("traffic.count must not be negative")
	}
	if c.Experiment.DurationSeconds < 0 {
		return fmt.Errorf("experiment.duration_seconds must not be negative")
	}
	if _, err := c.CaptureNodes(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// validateInterfaceName rejects names that are unsafe to hand to tcpdump
func validateInterfaceName(name string) error {
	return capture.ValidateInterfaceName(name)
}

// GetAllInterfaces returns the validated entries of capture.interface. An
// empty setting and "all" both return nil, which leaves the interfaces to
// discovery.
func (c *Config) GetAllInterfaces() ([]string, error) {
	var ifaces []string
	for _, part := range strings.Split(c.Capture.Interface, ",") {
		iface := strings.TrimSpace(part)
		if iface == "" {
			continue
		}
		if err := validateInterfaceName(iface); err != nil {
			return nil, fmt.Errorf("invalid interface '%s': %w", iface, err)
		}
		ifaces = append(ifaces, iface)
	}
	if len(ifaces) == 1 && ifaces[0] == "all" {
		return nil, nil
	}
	return ifaces, nil
}

// GetFirstInterface returns the first real interface named by
// capture.interface, or "" when it names none. Pseudo devices ("all",
// "any") do not count.
func (c *Config) GetFirstInterface() (string, error) {
	ifaces, err := c.GetAllInterfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface != "any" && iface != "all" {
			return iface, nil
		}
	}
	return "", nil
}

// CaptureNodes converts capture.nodes. Without nodes, the local host is the
// single node and capture.interface lists its interfaces.
func (c *Config) CaptureNodes() ([]capture.Node, error) {
	if len(c.Capture.Nodes) == 0 {
		ifaces, err := c.GetAllInterfaces()
		if err != nil {
			return nil, err
		}
		return []capture.Node{{Name: "host", Interfaces: ifaces}}, nil
	}

	nodes := make([]capture.Node, 0, len(c.Capture.Nodes))
	seen := make(map[string]bool)
	for i, nc := range c.Capture.Nodes {
		if err := validateInterfaceName(nc.Name); err != nil {
			return nil, fmt.Errorf("nodes[%d].name: %w", i, err)
		}
		if seen[nc.Name] {
			return nil, fmt.Errorf("nodes[%d]: duplicate node %q", i, nc.Name)
		}
		seen[nc.Name] = true
		if nc.Namespace != "" {
			if err := validateInterfaceName(nc.Namespace); err != nil {
				return nil, fmt.Errorf("nodes[%d].namespace: %w", i, err)
			}
		}
		for _, iface := range nc.Interfaces {
			if err := validateInterfaceName(iface); err != nil {
				return nil, fmt.Errorf("nodes[%d]: invalid interface '%s': %w", i, iface, err)
			}
		}
		nodes = append(nodes, capture.Node{
			Name:       nc.Name,
			Namespace:  nc.Namespace,
			Interfaces: append([]string(nil), nc.Interfaces...),
		})
	}
	return nodes, nil
}

// NATS returns the broker settings for the channel package. subjects are
// bound to the JetStream stream when JetStream is enabled.
func (c *Config) NATS(subjects []string) channel.NATSConfig {
	return channel.NATSConfig{
		Host:           c.Broker.Host,
		Port:           c.Broker.Port,
		ConnectTimeout: time.Duration(c.Broker.ConnectTimeoutMS) * time.Millisecond,
		MaxReconnects:  c.Broker.MaxReconnects,
		JetStream:      c.Broker.JetStream,
		Stream:         c.Broker.Stream,
		Subjects:       subjects,
	}
}

// PublishTimeout bounds a single publish
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.Broker.PublishTimeoutMS) * time.Millisecond
}

// AdminInterval is the minimum spacing of admin heartbeats
func (c *Config) AdminInterval() time.Duration {
	return time.Duration(c.Traffic.AdminIntervalSeconds) * time.Second
}

// CaptureManager returns the settings of the capture manager
func (c *Config) CaptureManager() capture.Config {
	return capture.Config{
		OutputDir: c.Capture.OutputDir,
		Tool:      c.Capture.Tool,
		Filter:    c.Capture.Filter,
		SnapLen:   c.Capture.SnapLen,
		StopGrace: time.Duration(c.Capture.StopGraceSeconds) * time.Second,
		Summarize: c.Capture.Summarize,
	}
}

// ExperimentDuration is how long the traffic phase of an experiment lasts
func (c *Config) ExperimentDuration() time.Duration {
	return time.Duration(c.Experiment.DurationSeconds) * time.Second
}

// InitializeLogging sets up the default logger based on config
func (c *Config) InitializeLogging() error {
	level, err := logger.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logConfig := logger.Config{
		LogLevel:   level,
		LogFile:    c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.LogRetentionDays,
	}
	if err := logger.Initialize(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
