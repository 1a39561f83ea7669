package channel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
)

// DefaultPort is the NATS client port.
const DefaultPort = 4222

// defaultFlushTimeout bounds flushes issued without a context deadline.
const defaultFlushTimeout = 2 * time.Second

// NATSConfig describes how to reach the broker.
type NATSConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
	// JetStream switches at-least-once publishes to acknowledged stream publishes
	JetStream bool
	// Stream is the JetStream stream that captures Subjects
	Stream   string
	Subjects []string
}

// URL returns the nats:// URL for the configured host and port.
func (c NATSConfig) URL() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return "nats://" + net.JoinHostPort(c.Host, strconv.Itoa(port))
}

type connectResult struct {
	conn *nats.Conn
	err  error
}

// Connect opens one NATS connection named name. The attempt is abandoned when
// ctx ends; a connection that completes afterwards is closed.
func Connect(ctx context.Context, cfg NATSConfig, name string, log *logger.Logger) (*nats.Conn, error) {
	url := cfg.URL()
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("[broker] %s disconnected: %v", name, err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("[broker] %s reconnected to %s", name, nc.ConnectedUrl())
		}),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	done := make(chan connectResult, 1)
	go func() {
		nc, err := nats.Connect(url, opts...)
		done <- connectResult{conn: nc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect to %s: %w", url, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connect to %s: %w", url, ctx.Err())
	}
}

// NATSDialer opens one NATS connection per worker.
type NATSDialer struct {
	cfg NATSConfig
	log *logger.Logger
}

// NewNATSDialer creates a dialer for cfg.
func NewNATSDialer(cfg NATSConfig, log *logger.Logger) *NATSDialer {
	return &NATSDialer{cfg: cfg, log: log}
}

// Dial implements Dialer. With JetStream enabled the stream is created or
// updated so that every configured subject is persisted and acknowledged.
func (d *NATSDialer) Dial(ctx context.Context, clientID string) (Publisher, error) {
	nc, err := Connect(ctx, d.cfg, clientID, d.log)
	if err != nil {
		return nil, err
	}
	p := &natsPublisher{conn: nc}
	if d.cfg.JetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("init jetstream: %w", err)
		}
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      d.cfg.Stream,
			Subjects:  d.cfg.Subjects,
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", d.cfg.Stream, err)
		}
		p.js = js
	}
	return p, nil
}

type natsPublisher struct {
	conn      *nats.Conn
	js        jetstream.JetStream
	closeOnce sync.Once
}

// Publish sends payload on topic. At-least-once publishes wait for a
// JetStream ack, or for the server to confirm receipt with a flush when
// JetStream is disabled. ctx bounds the wait.
func (p *natsPublisher) Publish(ctx context.Context, topic string, payload []byte, delivery Delivery) error {
	if p.conn == nil || p.conn.IsClosed() {
		return ErrNotConnected
	}
	if delivery == AtLeastOnce && p.js != nil {
		if _, err := p.js.Publish(ctx, topic, payload); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", topic, err)
		}
		return nil
	}
	if err := p.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if delivery != AtLeastOnce {
		return nil
	}
	var err error
	if _, ok := ctx.Deadline(); ok {
		err = p.conn.FlushWithContext(ctx)
	} else {
		err = p.conn.FlushTimeout(defaultFlushTimeout)
	}
	if err != nil {
		return fmt.Errorf("flush %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection once.
func (p *natsPublisher) Close() error {
	p.closeOnce.Do(func() {
		if p.conn == nil {
			return
		}
		if p.conn.IsConnected() {
			_ = p.conn.FlushTimeout(defaultFlushTimeout)
		}
		p.conn.Close()
	})
	return nil
}
