// Bellsim - doorbell device simulator
//
// Stands in for the ESP32 doorbell firmware during development: it
// publishes retained "online" heartbeats on lab/<ID>/status and rings
// (logs) when a command arrives on lab/<ID>/ring, honouring the same
// ms=<duration> payload rules as the real device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/larlab/bellcore/internal/infrastructure/logging"
	"github.com/larlab/bellcore/internal/infrastructure/mqtt"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/ring"
)

// heartbeatInterval matches the reference firmware's reporting rate.
const heartbeatInterval = 10 * time.Second

// connectTimeout bounds the initial broker connection.
const connectTimeout = 10 * time.Second

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	labID := flag.String("lab", string(lab.FallbackID), "lab identifier to simulate")
	username := flag.String("username", "", "MQTT username")
	password := flag.String("password", "", "MQTT password")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *broker, *labID, *username, *password); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, broker, rawLab, username, password string) error {
	log := logging.Default().With("component", "bellsim")

	id, err := lab.Normalize(rawLab)
	if err != nil {
		return fmt.Errorf("invalid lab id: %w", err)
	}

	topics := mqtt.Topics{}
	statusTopic := topics.LabStatus(string(id))
	ringTopic := topics.LabRing(string(id))

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("bellsim-" + string(id)).
		SetAutoReconnect(true).
		SetCleanSession(true).
		// Mirror the real device: if the simulator dies the retained
		// status flips so the relay sees the lab go stale.
		SetWill(statusTopic, "offline", 1, true)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connecting to %s: timeout", broker)
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to %s: %w", broker, token.Error())
	}
	defer client.Disconnect(250) //nolint:mnd // paho disconnect quiesce in ms

	log.Info("connected", "broker", broker, "lab", string(id))

	// Ring subscription: parse the duration exactly like the firmware
	// (ms=<n> or bare integer, clamped 1..10000, default 3000).
	subToken := client.Subscribe(ringTopic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		duration := ring.ParseDuration(string(msg.Payload()))
		log.Info("RING", "lab", string(id), "duration_ms", duration.Milliseconds(), "payload", string(msg.Payload()))

		// Simulate the buzzer being busy for the duration.
		time.Sleep(duration)
		log.Info("ring finished", "lab", string(id))
	})
	if !subToken.WaitTimeout(connectTimeout) || subToken.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", ringTopic, subToken.Error())
	}
	log.Info("listening for rings", "topic", ringTopic)

	// Heartbeat loop: retained so the relay sees the last state even
	// across its own restarts.
	publishHeartbeat(client, statusTopic, log)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down, publishing offline status")
			t := client.Publish(statusTopic, 1, true, "offline")
			t.WaitTimeout(connectTimeout)
			return nil
		case <-ticker.C:
			publishHeartbeat(client, statusTopic, log)
		}
	}
}

// publishHeartbeat publishes one retained "online" status message.
func publishHeartbeat(client pahomqtt.Client, topic string, log *logging.Logger) {
	token := client.Publish(topic, 1, true, "online")
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Warn("heartbeat publish failed", "error", token.Error())
	}
}
