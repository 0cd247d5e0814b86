package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []Event
	err    error
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) received(name string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func decode(t *testing.T, ev Event) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(ev.Data, &out))
	return out
}

type subscription struct {
	ch   chan []byte
	once sync.Once
}

func (s *subscription) close() { s.once.Do(func() { close(s.ch) }) }

type fakeBus struct {
	mu             sync.Mutex
	subs           []*subscription
	published      [][]byte
	failSubscribes int
	subscribeCalls int
	publishErr     error
}

func (b *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, payload)
	for _, s := range b.subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeCalls++
	if b.failSubscribes > 0 {
		b.failSubscribes--
		return nil, errors.New("connection refused")
	}
	s := &subscription{ch: make(chan []byte, 16)}
	b.subs = append(b.subs, s)
	go func() {
		<-ctx.Done()
		s.close()
	}()
	return s.ch, nil
}

// inject delivers payload to live subscriptions without recording it.
func (b *fakeBus) inject(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.ch <- payload
	}
}

func (b *fakeBus) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.close()
	}
	b.subs = nil
}

func (b *fakeBus) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeCalls
}

func (b *fakeBus) live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBus) envelopes(t *testing.T) []Envelope {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Envelope, 0, len(b.published))
	for _, p := range b.published {
		var env Envelope
		require.NoError(t, json.Unmarshal(p, &env))
		out = append(out, env)
	}
	return out
}
