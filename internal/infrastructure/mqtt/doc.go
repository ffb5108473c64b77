// Package mqtt provides MQTT client connectivity for Bellcore.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Ring command publishing with QoS guarantees
//   - Heartbeat topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the only channel between the relay and the embedded doorbell
// devices. The broker decouples the two: devices keep ringing from
// cached subscriptions even if the relay restarts, and the relay keeps
// serving status (from retained heartbeats) across device reboots.
//
//	Web clients → Bellcore → MQTT Broker → doorbell devices
//
// # Topic contract
//
//   - lab/<ID>/ring   — ring commands to a device (QoS 1, not retained)
//   - lab/<ID>/status — retained heartbeats from a device, 10 s interval
//   - bellcore/system/status — relay liveness (LWT + graceful shutdown)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllLabStatus(), 1,
//	    func(topic string, payload []byte) error {
//	        // feed the presence tracker
//	        return nil
//	    })
package mqtt
