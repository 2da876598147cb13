package output

import (
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type recordPin struct {
	levels []bool
	err    error
}

func (p *recordPin) Set(level bool) error {
	p.levels = append(p.levels, level)
	return p.err
}

func TestBankSet(t *testing.T) {
	b := NewBank()
	p0, p1 := &recordPin{}, &recordPin{}
	if err := b.Attach(0, p0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := b.Attach(1, p1); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := b.Set(0, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Set(1, false); err != nil {
		t.Fatalf("set: %v", err)
	}

	if got := b.Levels(); got != [Channels]bool{true, false} {
		t.Fatalf("unexpected levels %v", got)
	}
	if len(p0.levels) != 1 || !p0.levels[0] || len(p1.levels) != 1 || p1.levels[0] {
		t.Fatalf("sinks not driven: %v %v", p0.levels, p1.levels)
	}

	if err := b.Set(2, true); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if err := b.Attach(-1, p0); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
	if b.Level(7) {
		t.Fatalf("unknown channel must read low")
	}
}

func TestBankSinkFailureKeepsLevel(t *testing.T) {
	b := NewBank()
	failing := &recordPin{err: errors.New("broker down")}
	ok := &recordPin{}
	_ = b.Attach(1, failing)
	_ = b.Attach(1, ok)

	if err := b.Set(1, true); err == nil {
		t.Fatalf("expected sink error")
	}
	if !b.Level(1) {
		t.Fatalf("level must be stored even if a sink fails")
	}
	if len(ok.levels) != 1 {
		t.Fatalf("remaining sinks must still be driven")
	}
}

type fakeToken struct {
	done    chan struct{}
	err     error
	timeout bool
}

func newFakeToken(err error, timeout bool) *fakeToken {
	tok := &fakeToken{done: make(chan struct{}), err: err, timeout: timeout}
	if !timeout {
		close(tok.done)
	}
	return tok
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  interface{}
}

type fakeClient struct {
	calls   []publishCall
	err     error
	timeout bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.calls = append(c.calls, publishCall{topic, qos, retained, payload})
	return newFakeToken(c.err, c.timeout)
}

func TestMQTTPin(t *testing.T) {
	client := &fakeClient{}
	pin := &MQTTPin{client: client, topic: Topic("sensor-node", "0011223344556677", "gpio0"), qos: 1}

	if err := pin.Set(true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := pin.Set(false); err != nil {
		t.Fatalf("set: %v", err)
	}

	if len(client.calls) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(client.calls))
	}
	first := client.calls[0]
	if first.topic != "sensor-node/0011223344556677/gpio0" || first.qos != 1 || !first.retained || first.payload != "1" {
		t.Fatalf("unexpected publish %+v", first)
	}
	if client.calls[1].payload != "0" {
		t.Fatalf("expected payload 0, got %v", client.calls[1].payload)
	}

	client.err = errors.New("not connected")
	if err := pin.Set(true); err == nil {
		t.Fatalf("expected publish error")
	}

	client.err, client.timeout = nil, true
	if err := pin.Set(true); err == nil {
		t.Fatalf("expected timeout error")
	}
}
