package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"EnigmaNetz/Enigma-Traffic-Lab/config"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/bundle"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/capture"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/channel"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/experiment"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/health"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/metrics"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/monitor"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/traffic"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/version"
)

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Enigma Traffic Lab - Labelled IoT Traffic Generator & Capture Manager

Usage: traffic-lab <command> [flags] [args]

Commands:
  publish [flags] <BROKER_HOST> <TOPIC_PREFIX> <SENSOR_NAME|all>
                  Publish simulated sensor readings. flags: -config -seed -port -count -dry-run
  capture [flags] [node[@netns][:iface,...]]...
                  Record traffic on node interfaces until interrupted.
                  flags: -config -duration -output -filter
  experiment [flags]
                  Start captures, publish for experiment.duration_seconds, stop captures,
                  write a run manifest. flags: -config -duration -bundle
  monitor [flags] <BROKER_HOST>
                  Subscribe to every sensor and admin topic and log what arrives.
  cleanup [flags] Stop capture processes left behind by earlier runs.
  collect [flags] [zip-name]
                  Package logs, captures, manifests and config into a zip archive.

Options:
  --version, -v   Print version and exit
  --help, -h      Show this help message and exit

Configuration:
  Settings are read from the file given with -config, otherwise from
  /etc/traffic-lab/config.json or config.json in the working directory.
  JSON and YAML (.yaml/.yml) files are accepted. Without a file, defaults apply.

Sensors:
  ecg_monitor pulse_oximeter bp_sensor fire_sensor emg_sensor airflow_sensor
  barometer smoke_sensor infusion_pump glucometer gsr_sensor humidity_sensor
  temperature_sensor co_sensor (aliases: ecg bp oxygen emg airflow baro smoke
  infusion glucose gsr humidity temp co)

Example:
  traffic-lab publish -seed 2025 10.0.0.1 icu all
  traffic-lab capture -duration 60s s1:s1-eth0 h1@h1ns
  traffic-lab experiment -config lab.yaml -bundle
`)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stderr)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "--help", "-h", "help":
		printHelp(stdout)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintln(stdout, version.Version)
		return 0
	case "publish":
		return runPublish(ctx, args[1:], stderr)
	case "capture":
		return runCapture(ctx, args[1:], stderr)
	case "experiment":
		return runExperiment(ctx, args[1:], stderr)
	case "monitor":
		return runMonitor(ctx, args[1:], stderr)
	case "cleanup":
		return runCleanup(args[1:], stderr)
	case "collect":
		return runCollect(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printHelp(stderr)
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a JSON or YAML config file")
	return fs, configPath
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadConfig reads path, or the first existing file of the search path, or
// falls back to defaults. It returns the path actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadConfig(path)
		return cfg, path, err
	}
	var searchPaths []string
	if runtime.GOOS == "windows" {
		searchPaths = []string{`C:\ProgramData\TrafficLab\config.json`, "config.json"}
	} else {
		searchPaths = []string{"/etc/traffic-lab/config.json", "config.json"}
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cfg, err := config.LoadConfig(p)
		return cfg, p, err
	}
	return config.Default(), "", nil
}

// setup loads the config and initializes logging.
func setup(configPath string, stderr io.Writer) (*config.Config, string, *logger.Logger, bool) {
	cfg, used, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return nil, "", nil, false
	}
	if err := cfg.InitializeLogging(); err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logging: %v\n", err)
		return nil, "", nil, false
	}
	log := logger.GetLogger()
	if used != "" {
		log.Debug("Loaded config from %s: %+v", used, *cfg)
	}
	return cfg, used, log, true
}

// services runs the optional metrics and health endpoints.
type services struct {
	metrics *metrics.Metrics
	health  *health.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func startServices(ctx context.Context, cfg *config.Config, log *logger.Logger, healthServices ...string) *services {
	svcCtx, cancel := context.WithCancel(ctx)
	s := &services{cancel: cancel}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		s.metrics = metrics.New(reg)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := metrics.Serve(svcCtx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Error("[metrics] %v", err)
			}
		}()
	}
	if cfg.Health.Addr != "" {
		s.health = health.NewServer(log, healthServices...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.health.ListenAndServe(svcCtx, cfg.Health.Addr); err != nil {
				log.Error("[health] %v", err)
			}
		}()
	}
	return s
}

func (s *services) setServing(service string, serving bool) {
	if s.health != nil {
		s.health.SetServing(service, serving)
	}
}

func (s *services) status() experiment.StatusReporter {
	if s.health == nil {
		return nil
	}
	return s.health
}

func (s *services) stop() {
	s.cancel()
	s.wg.Wait()
}

func newDispatcher(cfg *config.Config, catalog *profile.Catalog, dialer channel.Dialer, log *logger.Logger, m *metrics.Metrics) *traffic.Dispatcher {
	opts := []traffic.Option{
		traffic.WithMetrics(m),
		traffic.WithAdminInterval(cfg.AdminInterval()),
		traffic.WithPublishTimeout(cfg.PublishTimeout()),
		traffic.WithMaxIterations(cfg.Traffic.Count),
	}
	if cfg.Traffic.SensorLogDir != "" {
		opts = append(opts, traffic.WithSensorLogDir(cfg.Traffic.SensorLogDir))
	}
	return traffic.NewDispatcher(catalog, dialer, log, opts...)
}

func runPublish(ctx context.Context, args []string, stderr io.Writer) int {
	fs, configPath := newFlagSet("publish", stderr)
	seed := fs.Int64("seed", config.DefaultSeed, "experiment seed")
	port := fs.Int("port", channel.DefaultPort, "broker port")
	count := fs.Int("count", 0, "readings per sensor, 0 publishes until interrupted")
	dryRun := fs.Bool("dry-run", false, "log messages instead of publishing them")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(stderr, "Usage: traffic-lab publish [flags] <BROKER_HOST> <TOPIC_PREFIX> <SENSOR_NAME|all>")
		return 1
	}
	host, prefix, sensor := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	cfg, _, log, ok := setup(*configPath, stderr)
	if !ok {
		return 1
	}
	cfg.Broker.Host = host
	cfg.Traffic.TopicPrefix = prefix
	if flagWasSet(fs, "seed") {
		cfg.Traffic.Seed = *seed
	}
	if flagWasSet(fs, "port") {
		cfg.Broker.Port = *port
	}
	if flagWasSet(fs, "count") {
		cfg.Traffic.Count = *count
	}

	catalog := profile.DefaultCatalog()
	svc := startServices(ctx, cfg, log, health.ServiceTraffic)
	defer svc.stop()

	var dialer channel.Dialer = channel.NewNATSDialer(cfg.NATS(catalog.Topics()), log)
	if *dryRun {
		dialer = channel.LogDialer{Log: log}
	}
	disp := newDispatcher(cfg, catalog, dialer, log, svc.metrics)

	log.Info("Publishing to %s as %q with seed %d", cfg.NATS(nil).URL(), prefix, cfg.Traffic.Seed)
	svc.setServing(health.ServiceTraffic, true)
	defer svc.setServing(health.ServiceTraffic, false)

	if strings.EqualFold(sensor, "all") {
		if err := disp.RunAll(ctx, cfg.Traffic.Seed, prefix); err != nil {
			log.Error("Publishing failed: %v", err)
			return 1
		}
		return 0
	}
	if err := disp.RunOne(ctx, sensor, cfg.Traffic.Seed, prefix); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Interrupted before %s connected", sensor)
			return 0
		}
		log.Error("Publishing failed: %v", err)
		return 1
	}
	return 0
}

func captureManager(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) *capture.Manager {
	return capture.NewManager(cfg.CaptureManager(), log, capture.WithMetrics(m))
}

func runCapture(ctx context.Context, args []string, stderr io.Writer) int {
	fs, configPath := newFlagSet("capture", stderr)
	duration := fs.Duration("duration", 0, "stop after this long, 0 waits for a signal")
	output := fs.String("output", "", "directory for capture files")
	filter := fs.String("filter", "", "BPF filter expression")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	var nodes []capture.Node
	for _, spec := range fs.Args() {
		node, err := capture.ParseNode(spec)
		if err != nil {
			fmt.Fprintf(stderr, "Invalid node: %v\n", err)
			return 1
		}
		nodes = append(nodes, node)
	}

	cfg, _, log, ok := setup(*configPath, stderr)
	if !ok {
		return 1
	}
	if *output != "" {
		cfg.Capture.OutputDir = *output
	}
	if *filter != "" {
		cfg.Capture.Filter = *filter
	}
	if len(nodes) == 0 {
		var err error
		if nodes, err = cfg.CaptureNodes(); err != nil {
			log.Error("Invalid capture nodes: %v", err)
			return 1
		}
	}

	svc := startServices(ctx, cfg, log, health.ServiceCapture)
	defer svc.stop()
	mgr := captureManager(cfg, log, svc.metrics)

	for _, node := range nodes {
		for _, err := range mgr.StartCapture(node, "") {
			log.Warn("Capture not started: %v", err)
		}
	}
	if len(mgr.Sessions()) == 0 {
		log.Error("No capture could be started")
		if err := mgr.Cleanup(); err != nil {
			log.Warn("Cleanup: %v", err)
		}
		return 1
	}
	svc.setServing(health.ServiceCapture, true)
	log.Info("Capturing on %d interfaces into %s", len(mgr.Sessions()), mgr.OutputDir())

	if *duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*duration):
		}
	} else {
		<-ctx.Done()
	}

	sessions := mgr.Sessions()
	svc.setServing(health.ServiceCapture, false)
	if err := mgr.Cleanup(); err != nil {
		log.Error("Cleanup failed: %v", err)
		return 1
	}
	for _, s := range sessions {
		log.Info("Captured %s/%s -> %s", s.Node, s.Interface, s.File)
	}
	log.Info("Capture finished, %d files in %s", len(sessions), mgr.OutputDir())
	return 0
}

func runExperiment(ctx context.Context, args []string, stderr io.Writer) int {
	fs, configPath := newFlagSet("experiment", stderr)
	duration := fs.Duration("duration", 0, "override experiment.duration_seconds")
	withBundle := fs.Bool("bundle", false, "zip logs, captures and manifests after the run")
	dryRun := fs.Bool("dry-run", false, "log messages instead of publishing them")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, usedConfig, log, ok := setup(*configPath, stderr)
	if !ok {
		return 1
	}
	nodes, err := cfg.CaptureNodes()
	if err != nil {
		log.Error("Invalid capture nodes: %v", err)
		return 1
	}
	hostIface, err := cfg.GetFirstInterface()
	if err != nil {
		log.Error("Invalid capture interface: %v", err)
		return 1
	}
	runFor := cfg.ExperimentDuration()
	if *duration > 0 {
		runFor = *duration
	}

	catalog := profile.DefaultCatalog()
	svc := startServices(ctx, cfg, log, health.ServiceTraffic, health.ServiceCapture)
	defer svc.stop()

	var dialer channel.Dialer = channel.NewNATSDialer(cfg.NATS(catalog.Topics()), log)
	if *dryRun {
		dialer = channel.LogDialer{Log: log}
	}
	runner := experiment.NewRunner(
		catalog,
		newDispatcher(cfg, catalog, dialer, log, svc.metrics),
		captureManager(cfg, log, svc.metrics),
		svc.status(),
		log,
	)
	manifest, err := runner.Run(ctx, experiment.Config{
		Seed:          cfg.Traffic.Seed,
		TopicPrefix:   cfg.Traffic.TopicPrefix,
		Sensors:       cfg.Traffic.Sensors,
		Duration:      runFor,
		Nodes:         nodes,
		ManifestDir:   cfg.Experiment.ManifestDir,
		WarmUp:        time.Duration(cfg.Experiment.WarmUpSeconds) * time.Second,
		HostInterface: hostIface,
	})
	if err != nil {
		log.Error("Experiment failed: %v", err)
		return 1
	}
	log.Info("Experiment %s finished with %d capture files", manifest.RunID, len(manifest.CaptureFiles))

	if *withBundle || cfg.Experiment.Bundle {
		name := bundle.DefaultName(time.Now())
		if err := bundle.Collect(name, bundleSources(cfg, usedConfig)); err != nil {
			log.Error("Bundle failed: %v", err)
			return 1
		}
		log.Info("Created %s", name)
	}
	return 0
}

func runMonitor(ctx context.Context, args []string, stderr io.Writer) int {
	fs, configPath := newFlagSet("monitor", stderr)
	port := fs.Int("port", channel.DefaultPort, "broker port")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: traffic-lab monitor [flags] <BROKER_HOST>")
		return 1
	}
	cfg, _, log, ok := setup(*configPath, stderr)
	if !ok {
		return 1
	}
	cfg.Broker.Host = fs.Arg(0)
	if flagWasSet(fs, "port") {
		cfg.Broker.Port = *port
	}

	mon := monitor.New(cfg.NATS(nil), profile.DefaultCatalog().Topics(), log)
	if err := mon.Run(ctx, cfg.Traffic.TopicPrefix+"-monitor"); err != nil {
		log.Error("Monitor failed: %v", err)
		return 1
	}
	return 0
}

func runCleanup(args []string, stderr io.Writer) int {
	fs, configPath := newFlagSet("cleanup", stderr)
	output := fs.String("output", "", "capture directory whose processes are stopped")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, _, log, ok := setup(*configPath, stderr)
	if !ok {
		return 1
	}
	if *output != "" {
		cfg.Capture.OutputDir = *output
	}
	if err := captureManager(cfg, log, nil).Cleanup(); err != nil {
		log.Error("Cleanup failed: %v", err)
		return 1
	}
	return 0
}

func bundleSources(cfg *config.Config, configFile string) bundle.Sources {
	logDir := "logs"
	if cfg.Logging.File != "" {
		logDir = filepath.Dir(cfg.Logging.File)
	}
	return bundle.Sources{
		LogDir:      logDir,
		CaptureDir:  cfg.Capture.OutputDir,
		ManifestDir: cfg.Experiment.ManifestDir,
		ConfigFile:  configFile,
	}
}

func runCollect(args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("collect", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, usedConfig, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	name := bundle.DefaultName(time.Now())
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	if err := bundle.Collect(name, bundleSources(cfg, usedConfig)); err != nil {
		fmt.Fprintf(stderr, "Failed to collect logs: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Created %s with logs, captures, manifests and config.\n", name)
	return 0
}
