package ring

import (
	"fmt"
	"time"

	"github.com/larlab/bellcore/internal/guard"
	"github.com/larlab/bellcore/internal/infrastructure/mqtt"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/session"
)

// Publisher is the slice of the MQTT client the dispatcher needs.
// Narrowed to an interface so tests can substitute a fake bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Receipt echoes back what was published on a successful ring.
type Receipt struct {
	Lab     lab.ID
	Topic   string
	Payload string
}

// ringQoS is the delivery quality for ring commands: at least once.
// A duplicate ring is a minor annoyance; a lost one is a missed visitor.
const ringQoS = 1

// Dispatcher orchestrates a validated ring: identifier resolution,
// session authorization, bus publish, and cooldown recording.
//
// The admission-control gates (rate limit, cooldown check) run in the
// HTTP layer before the dispatcher is ever invoked, so that abusive
// traffic is shed without touching the session table.
type Dispatcher struct {
	registry *lab.Registry
	sessions *session.Manager
	cooldown *guard.Cooldown
	bus      Publisher
}

// NewDispatcher creates a ring dispatcher.
func NewDispatcher(registry *lab.Registry, sessions *session.Manager, cooldown *guard.Cooldown, bus Publisher) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sessions: sessions,
		cooldown: cooldown,
		bus:      bus,
	}
}

// Ring validates and dispatches one ring command.
//
// Steps, in order, each failing with its own error class:
//  1. Resolve rawLab (lab.ErrInvalidID / lab.ErrNotRegistered — input validation)
//  2. Validate token against addr (session errors — authorization)
//  3. Publish the constant payload to lab/<ID>/ring at QoS 1
//     (ErrPublishFailed — transport; cooldown NOT recorded)
//  4. On success, record the lab's cooldown instant and return a receipt
//
// Exactly one cooldown update happens per successful dispatch; no other
// dispatcher state is mutated.
func (d *Dispatcher) Ring(rawLab, token, addr string, now time.Time) (Receipt, error) {
	id, err := d.registry.Resolve(rawLab)
	if err != nil {
		return Receipt{}, err
	}

	if err := d.sessions.Validate(token, addr, now); err != nil {
		return Receipt{}, err
	}

	topic := mqtt.Topics{}.LabRing(string(id))
	payload := Payload()

	if err := d.bus.Publish(topic, []byte(payload), ringQoS, false); err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	d.cooldown.Record(id, now)

	return Receipt{
		Lab:     id,
		Topic:   topic,
		Payload: payload,
	}, nil
}
