package traffic

import (
	"context"
	"errors"
	"sync"
	"time"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/channel"
)

type sent struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu       sync.Mutex
	id       string
	messages []sent
	attempts int
	closes   int
	// failFirst makes the first n publishes fail
	failFirst int
	onPublish func(ctx context.Context)
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte, _ channel.Delivery) error {
	if p.onPublish != nil {
		p.onPublish(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failFirst {
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, sent{topic: topic, payload: string(payload)})
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePublisher) sent() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.messages...)
}

func (p *fakePublisher) onTopic(topic string) []string {
	var out []string
	for _, m := range p.sent() {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeDialer struct {
	mu         sync.Mutex
	fail       map[string]error
	publishers map[string]*fakePublisher
	newPub     func(id string) *fakePublisher
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{fail: map[string]error{}, publishers: map[string]*fakePublisher{}}
}

func (d *fakeDialer) Dial(_ context.Context, clientID string) (channel.Publisher, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[clientID]; ok {
		return nil, err
	}
	p := &fakePublisher{id: clientID}
	if d.newPub != nil {
		p = d.newPub(clientID)
	}
	d.publishers[clientID] = p
	return p, nil
}

func (d *fakeDialer) get(clientID string) *fakePublisher {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.publishers[clientID]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.publishers)
}

// fakeClock advances only when a worker sleeps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return true
}
