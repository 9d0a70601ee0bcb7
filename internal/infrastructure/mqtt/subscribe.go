package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe registers handler for topic. The subscription is remembered and
// restored by the connect handler after every reconnect, so callers subscribe
// once at startup.
//
// Handlers run on paho's delivery goroutine. A returned error is logged and
// the message is still acknowledged; a panic is recovered and logged.
//
// Example:
//
//	err := client.Subscribe(client.Topics().Alerts(), 1,
//	    func(topic string, payload []byte) error {
//	        return agent.Deliver(ctx, topic, payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	// Track only what the broker accepted; restoreSubscriptions replays this.
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	return nil
}

// SubscribeAll subscribes handler to every topic in order and stops at the
// first failure. Topics subscribed before the failure stay subscribed.
func (c *Client) SubscribeAll(topics []string, qos byte, handler MessageHandler) error {
	for _, topic := range topics {
		if err := c.Subscribe(topic, qos, handler); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns the tracked topic filters, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
