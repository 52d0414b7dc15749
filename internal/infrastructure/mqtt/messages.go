package mqtt

import (
	"fmt"
)

// Publish sends payload to a concrete topic in the espleds/ tree. The bridge
// publishes all state retained so late subscribers see the current picture.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !validTopic(topic, false) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes on %s (max %d)", ErrPayloadTooLarge, len(payload), topic, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(c.paho.Publish(topic, qos, retained, payload), "publish", topic)
}

// Subscribe routes messages matching filter to handler. Filters may use +
// and # but must stay inside espleds/. The route is replayed after every
// reconnect until Unsubscribe removes it.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if !validTopic(filter, true) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, filter)
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if handler == nil {
		return ErrNilHandler
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(c.paho.Subscribe(filter, qos, c.dispatch(handler)), "subscribe", filter); err != nil {
		return err
	}
	c.mu.Lock()
	c.routes[filter] = route{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

// Unsubscribe drops the route for filter. Messages already in flight may
// still reach the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if !validTopic(filter, true) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.routes, filter)
	c.mu.Unlock()
	return wait(c.paho.Unsubscribe(filter), "unsubscribe", filter)
}
