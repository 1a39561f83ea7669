// Package monitor subscribes to the sensor and admin topics and logs every
// message it receives.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/channel"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/profile"
	"EnigmaNetz/Enigma-Traffic-Lab/internal/traffic"
)

// Monitor is a passive subscriber.
type Monitor struct {
	cfg    channel.NATSConfig
	topics []string
	log    *logger.Logger

	mu        sync.Mutex
	perTopic  map[string]uint64
	perClass  map[profile.Class]uint64
	malformed uint64
}

// New creates a monitor for topics on the broker described by cfg.
func New(cfg channel.NATSConfig, topics []string, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		topics:   topics,
		log:      log,
		perTopic: make(map[string]uint64),
		perClass: make(map[profile.Class]uint64),
	}
}

// Run subscribes to every topic and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context, clientID string) error {
	nc, err := channel.Connect(ctx, m.cfg, clientID, m.log)
	if err != nil {
		return err
	}
	defer nc.Close()

	for _, topic := range m.topics {
		if _, err := nc.Subscribe(topic, func(msg *nats.Msg) {
			m.Handle(msg.Subject, msg.Data)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	m.log.Info("Subscribed to %d topics on %s", len(m.topics), m.cfg.URL())

	<-ctx.Done()
	if err := nc.Drain(); err != nil {
		m.log.Debug("Drain: %v", err)
	}
	m.log.Info("Monitor stopped: %s", m.Summary())
	return nil
}

// Handle records and logs one received message.
func (m *Monitor) Handle(topic string, payload []byte) {
	msg, err := traffic.ParseMessage(payload)

	m.mu.Lock()
	m.perTopic[topic]++
	if err != nil {
		m.malformed++
	} else {
		m.perClass[msg.Class]++
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("Received malformed message on %s: %v", topic, err)
		return
	}
	m.log.Info("Received: %s on %s", payload, topic)
}

// Count returns the number of messages received on topic.
func (m *Monitor) Count(topic string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perTopic[topic]
}

// ClassCount returns the number of well-formed messages of class c.
func (m *Monitor) ClassCount(c profile.Class) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perClass[c]
}

// Summary renders per-class totals.
func (m *Monitor) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("class1=%d class2=%d class3=%d class4=%d malformed=%d",
		m.perClass[profile.EmergencyImportant], m.perClass[profile.EmergencyNotImportant],
		m.perClass[profile.ImportantNotEmergency], m.perClass[profile.Background], m.malformed)
}
