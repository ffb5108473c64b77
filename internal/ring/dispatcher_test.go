package ring

import (
	"errors"
	"testing"
	"time"

	"github.com/larlab/bellcore/internal/guard"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/session"
)

// fakeBus records publishes and optionally fails them.
type fakeBus struct {
	published []publishCall
	failWith  error
}

type publishCall struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

func (f *fakeBus) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.published = append(f.published, publishCall{
		topic:    topic,
		payload:  string(payload),
		qos:      qos,
		retained: retained,
	})
	return nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	sessions   *session.Manager
	cooldown   *guard.Cooldown
	bus        *fakeBus
}

func newFixture() *dispatcherFixture {
	registry := lab.NewRegistry("LAPADA,LAB01", nil)
	sessions := session.NewManager()
	cooldown := guard.NewCooldown(3 * time.Second)
	bus := &fakeBus{}

	return &dispatcherFixture{
		dispatcher: NewDispatcher(registry, sessions, cooldown, bus),
		sessions:   sessions,
		cooldown:   cooldown,
		bus:        bus,
	}
}

func TestRingSuccess(t *testing.T) {
	f := newFixture()
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	token := f.sessions.Issue("10.0.0.5", now)

	receipt, err := f.dispatcher.Ring("lapada", token, "10.0.0.5", now)
	if err != nil {
		t.Fatalf("Ring: %v", err)
	}

	if receipt.Lab != "LAPADA" {
		t.Errorf("receipt lab = %q", receipt.Lab)
	}
	if receipt.Topic != "lab/LAPADA/ring" {
		t.Errorf("receipt topic = %q", receipt.Topic)
	}
	if receipt.Payload != "ms=3000" {
		t.Errorf("receipt payload = %q", receipt.Payload)
	}

	if len(f.bus.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(f.bus.published))
	}
	p := f.bus.published[0]
	if p.topic != "lab/LAPADA/ring" || p.payload != "ms=3000" || p.qos != 1 || p.retained {
		t.Errorf("unexpected publish: %+v", p)
	}

	// Success records the cooldown.
	if _, ok := f.cooldown.LastRing("LAPADA"); !ok {
		t.Error("cooldown not recorded after successful ring")
	}
}

func TestRingUnknownLab(t *testing.T) {
	f := newFixture()
	now := time.Now()
	token := f.sessions.Issue("10.0.0.5", now)

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "invalid", raw: "not a lab!", want: lab.ErrInvalidID},
		{name: "unregistered", raw: "GHOST", want: lab.ErrNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Ring(tt.raw, token, "10.0.0.5", now)
			if !errors.Is(err, tt.want) {
				t.Errorf("Ring(%q) = %v, want %v", tt.raw, err, tt.want)
			}
		})
	}

	if len(f.bus.published) != 0 {
		t.Error("publish happened despite invalid lab")
	}
}

func TestRingBadSession(t *testing.T) {
	f := newFixture()
	now := time.Now()
	token := f.sessions.Issue("10.0.0.5", now)

	tests := []struct {
		name  string
		token string
		addr  string
		want  error
	}{
		{name: "unknown token", token: "bogus", addr: "10.0.0.5", want: session.ErrUnknownToken},
		{name: "wrong address", token: token, addr: "10.0.0.9", want: session.ErrAddressMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dispatcher.Ring("LAPADA", tt.token, tt.addr, now)
			if !errors.Is(err, tt.want) {
				t.Errorf("Ring = %v, want %v", err, tt.want)
			}
		})
	}

	if len(f.bus.published) != 0 {
		t.Error("publish happened despite failed authorization")
	}
	if _, ok := f.cooldown.LastRing("LAPADA"); ok {
		t.Error("cooldown recorded despite failed authorization")
	}
}

func TestRingPublishFailure(t *testing.T) {
	f := newFixture()
	f.bus.failWith = errors.New("broker unreachable")
	now := time.Now()
	token := f.sessions.Issue("10.0.0.5", now)

	_, err := f.dispatcher.Ring("LAPADA", token, "10.0.0.5", now)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Ring = %v, want ErrPublishFailed", err)
	}

	// Failed publish must not start a cooldown: the visitor may retry.
	if _, ok := f.cooldown.LastRing("LAPADA"); ok {
		t.Error("cooldown recorded despite failed publish")
	}
}
