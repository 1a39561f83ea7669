// Package traffic runs one publishing worker per simulated sensor.
package traffic

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/channel"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/metrics"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
)

const (
	// DefaultAdminInterval is the minimum spacing of admin heartbeats.
	DefaultAdminInterval = 15 * time.Second
	// DefaultPublishTimeout bounds a single publish.
	DefaultPublishTimeout = 5 * time.Second
)

// State is the lifecycle stage of a Worker.
type State int32

const (
	Connecting State = iota
	Running
	Stopping
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// WorkerConfig carries the per-worker run parameters.
type WorkerConfig struct {
	ClientID       string
	Seed           int64
	AdminInterval  time.Duration
	PublishTimeout time.Duration
	// MaxIterations stops the worker after that many readings; 0 runs until cancelled
	MaxIterations int
}

// Worker publishes the reading stream of one sensor over its own connection.
type Worker struct {
	profile profile.Profile
	cfg     WorkerConfig
	dialer  channel.Dialer
	log     *logger.Logger
	metrics *metrics.Metrics
	state   atomic.Int32

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewWorker creates a worker for p. Zero durations in cfg take the defaults.
func NewWorker(p profile.Profile, cfg WorkerConfig, dialer channel.Dialer, log *logger.Logger, m *metrics.Metrics) *Worker {
	if cfg.AdminInterval <= 0 {
		cfg.AdminInterval = DefaultAdminInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = p.Key
	}
	return &Worker{
		profile: p,
		cfg:     cfg,
		dialer:  dialer,
		log:     log,
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// State returns the current lifecycle stage.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run connects, publishes until ctx is cancelled or MaxIterations is reached,
// and closes the connection. It returns an error only when the connection
// could not be established.
func (w *Worker) Run(ctx context.Context) error {
	key := w.profile.Key
	w.setState(Connecting)

	pub, err := w.dialer.Dial(ctx, w.cfg.ClientID)
	if err != nil {
		w.log.Error("[%s] Connection failed: %v", key, err)
		w.metrics.ConnectFailed(key)
		w.setState(Closed)
		return fmt.Errorf("sensor %s: %w", key, err)
	}

	w.setState(Running)
	w.metrics.WorkerStarted()
	w.log.Info("[%s] Connected as %s, publishing every %s", key, w.cfg.ClientID, w.profile.Interval)

	values := profile.NewRand(w.cfg.Seed, profile.ValueStream)
	admin := profile.NewRand(w.cfg.Seed, profile.AdminStream)
	lastAdmin := w.now()

	for i := 0; w.cfg.MaxIterations == 0 || i < w.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			break
		}
		w.log.Debug("[SeedConfig] Sensor=%s, Seed=%d", key, w.cfg.Seed)

		payload := FormatReading(w.profile, Sample(w.profile, values))
		w.publish(ctx, pub, profile.SensorTopic(key), payload, metrics.KindPrimary)

		if now := w.now(); now.Sub(lastAdmin) >= w.cfg.AdminInterval {
			word := AdminWords[admin.IntN(len(AdminWords))]
			w.publish(ctx, pub, profile.AdminTopic(key), FormatAdmin(key, word), metrics.KindAdmin)
			lastAdmin = now
		}

		if w.cfg.MaxIterations > 0 && i == w.cfg.MaxIterations-1 {
			break
		}
		if !w.sleep(ctx, w.profile.Interval) {
			break
		}
	}

	w.setState(Stopping)
	w.metrics.WorkerStopped()
	if err := pub.Close(); err != nil {
		w.log.Warn("[%s] Closing connection: %v", key, err)
	}
	w.setState(Closed)
	w.log.Info("[%s] Publisher stopped", key)
	return nil
}

// publish sends one message. The publish is detached from ctx so that a stop
// request never cuts a message in half; the publish timeout still bounds it.
func (w *Worker) publish(ctx context.Context, pub channel.Publisher, topic, payload, kind string) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PublishTimeout)
	defer cancel()

	key := w.profile.Key
	if err := pub.Publish(pctx, topic, []byte(payload), channel.AtLeastOnce); err != nil {
		w.log.Error("[%s] Publish on %s failed: %v", key, topic, err)
		w.metrics.PublishFailed(key, kind)
		return
	}
	if kind == metrics.KindAdmin {
		w.log.Info("[ADMIN] Published: %s on %s", payload, topic)
		w.metrics.Published(key, int(profile.Background), kind)
		return
	}
	w.log.Info("Published: %s on %s", payload, topic)
	w.metrics.Published(key, int(w.profile.Class), kind)
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
