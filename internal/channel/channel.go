// Package channel is the publish side of the broker connection used by the
// traffic workers. Each worker dials its own Publisher.
package channel

import (
	"context"
	"errors"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/logger"
)

// Delivery is the guarantee requested for a single publish.
type Delivery int

const (
	// AtMostOnce fires the message without waiting for the broker
	AtMostOnce Delivery = iota
	// AtLeastOnce returns only after the broker has accepted the message
	AtLeastOnce
)

func (d Delivery) String() string {
	switch d {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when publishing on a closed or missing connection.
var ErrNotConnected = errors.New("not connected to broker")

// Publisher emits labeled messages on topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, delivery Delivery) error
	Close() error
}

// Dialer opens one Publisher per caller.
type Dialer interface {
	Dial(ctx context.Context, clientID string) (Publisher, error)
}

// LogDialer hands out publishers that only log what they would send. It backs
// dry runs where no broker is reachable.
type LogDialer struct {
	Log *logger.Logger
}

// Dial implements Dialer.
func (d LogDialer) Dial(ctx context.Context, clientID string) (Publisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &logPublisher{id: clientID, log: d.Log}, nil
}

type logPublisher struct {
	id     string
	log    *logger.Logger
	closed bool
}

func (p *logPublisher) Publish(_ context.Context, topic string, payload []byte, delivery Delivery) error {
	if p.closed {
		return ErrNotConnected
	}
	p.log.Debug("[dry-run] %s -> %s (%s): %s", p.id, topic, delivery, payload)
	return nil
}

func (p *logPublisher) Close() error {
	p.closed = true
	return nil
}
