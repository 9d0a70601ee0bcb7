package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads. Telemetry and shadow reports are a
// few hundred bytes; anything near this is a bug upstream.
const maxPayloadSize = 64 << 10

// Publish sends payload to topic and waits for the broker to acknowledge it
// (QoS 1/2) or for the write to complete (QoS 0).
//
// Nothing is queued or retried by this package. A failed publish is counted
// in Stats and returned to the caller, which decides whether to drop it.
//
// Parameters:
//   - topic: Destination topic, e.g. Topics().Telemetry()
//   - payload: Message body, at most 64 KiB
//   - qos: 0, 1 or 2
//   - retained: Keep as the topic's last value on the broker (status only)
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrPayloadTooLarge,
//     ErrNotConnected, or a wrapped ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		c.publishFailed.Add(1)
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.publishFailed.Add(1)
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.publishFailed.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	c.published.Add(1)
	return nil
}

// PublishDefault publishes a non-retained message at the configured QoS.
// This is the path used for telemetry, shadow reports and actuator output.
func (c *Client) PublishDefault(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), false) //nolint:gosec // validated 0-2 by config
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
