// Package mqtt is the broker link behind the ESPLEDS bridge.
//
// Only topics under espleds/ can be published or subscribed. The client
// keeps espleds/health current: a retained online status on every
// connect, a graceful offline status on Close, and an offline will for
// crashes. Subscriptions are replayed after paho reconnects.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        address, parameter, ok := mqtt.Topics{}.ParseCommand(topic)
//	        ...
//	    })
package mqtt
