package traffic

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/channel"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/metrics"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
)

// Dispatcher starts workers for a set of sensors and waits for all of them.
type Dispatcher struct {
	catalog        *profile.Catalog
	dialer         channel.Dialer
	log            *logger.Logger
	metrics        *metrics.Metrics
	adminInterval  time.Duration
	publishTimeout time.Duration
	maxIterations  int
	sensorLogDir   string

	// clock hands each worker its own time source
	clock func() (now func() time.Time, sleep func(ctx context.Context, d time.Duration) bool)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records worker activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAdminInterval overrides the heartbeat spacing.
func WithAdminInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.adminInterval = interval }
}

// WithPublishTimeout overrides the bound on a single publish.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.publishTimeout = timeout }
}

// WithMaxIterations stops every worker after n readings.
func WithMaxIterations(n int) Option {
	return func(d *Dispatcher) { d.maxIterations = n }
}

// WithSensorLogDir additionally writes each worker's lines to
// <dir>/<key>_publisher.log.
func WithSensorLogDir(dir string) Option {
	return func(d *Dispatcher) { d.sensorLogDir = dir }
}

// NewDispatcher creates a dispatcher over catalog that dials through dialer.
func NewDispatcher(catalog *profile.Catalog, dialer channel.Dialer, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog: catalog,
		dialer:  dialer,
		log:     log,
		clock:   realClock,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunAll runs one worker per catalog sensor until ctx is cancelled. A worker
// that cannot connect is logged and does not affect the others.
func (d *Dispatcher) RunAll(ctx context.Context, globalSeed int64, topicPrefix string) error {
	d.log.Info("Publishing for all %d sensors (seed=%d, prefix=%q)", len(d.catalog.AllKeys()), globalSeed, topicPrefix)
	profiles := make([]profile.Profile, 0, len(d.catalog.AllKeys()))
	for _, key := range d.catalog.AllKeys() {
		p, _ := d.catalog.Lookup(key)
		profiles = append(profiles, p)
	}
	d.runProfiles(ctx, profiles, globalSeed, topicPrefix)
	return nil
}

// RunSensors runs workers for the named sensors. Names that resolve to the
// same sensor start a single worker.
func (d *Dispatcher) RunSensors(ctx context.Context, names []string, globalSeed int64, topicPrefix string) error {
	seen := make(map[string]bool, len(names))
	var profiles []profile.Profile
	for _, name := range names {
		p := d.resolve(name)
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		profiles = append(profiles, p)
	}
	d.log.Info("Publishing for %d sensors (seed=%d, prefix=%q)", len(profiles), globalSeed, topicPrefix)
	d.runProfiles(ctx, profiles, globalSeed, topicPrefix)
	return nil
}

// RunOne runs the worker for a single sensor name or alias and returns its
// connection error, if any.
func (d *Dispatcher) RunOne(ctx context.Context, name string, globalSeed int64, topicPrefix string) error {
	p := d.resolve(name)
	return d.runWorker(ctx, p, globalSeed, topicPrefix)
}

func (d *Dispatcher) resolve(name string) profile.Profile {
	p, ok := d.catalog.Resolve(name)
	if !ok {
		d.log.Warn("Unknown sensor %q, using %s", name, p.Key)
	}
	return p
}

func (d *Dispatcher) runProfiles(ctx context.Context, profiles []profile.Profile, globalSeed int64, topicPrefix string) {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, p := range profiles {
		wg.Add(1)
		go func(p profile.Profile) {
			defer wg.Done()
			if err := d.runWorker(ctx, p, globalSeed, topicPrefix); err != nil {
				mu.Lock()
				failed = append(failed, p.Key)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	if len(failed) > 0 {
		d.log.Warn("%d of %d workers could not connect: %v", len(failed), len(profiles), failed)
	}
	d.log.Info("All publishers stopped")
}

func (d *Dispatcher) runWorker(ctx context.Context, p profile.Profile, globalSeed int64, topicPrefix string) error {
	log := d.log
	if d.sensorLogDir != "" {
		sensorLog, err := d.log.WithFile(filepath.Join(d.sensorLogDir, p.Key+"_publisher.log"))
		if err != nil {
			d.log.Warn("[%s] Per-sensor log unavailable: %v", p.Key, err)
		} else {
			defer sensorLog.Close()
			log = sensorLog
		}
	}

	w := NewWorker(p, WorkerConfig{
		ClientID:       clientID(topicPrefix, p.Key),
		Seed:           profile.DeriveSeed(globalSeed, p.Key),
		AdminInterval:  d.adminInterval,
		PublishTimeout: d.publishTimeout,
		MaxIterations:  d.maxIterations,
	}, d.dialer, log, d.metrics)
	w.now, w.sleep = d.clock()
	return w.Run(ctx)
}

func realClock() (func() time.Time, func(ctx context.Context, d time.Duration) bool) {
	return time.Now, sleepContext
}

func clientID(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "-" + key
}
