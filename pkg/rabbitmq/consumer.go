/**
 * @description
 * This file provides the consuming side of the transfer event stream. The
 * consumer binds one durable queue to the transfer_events exchange, decodes
 * each delivery into a lifecycle event, and dispatches it to the handler
 * registered for the event's new state. Handlers signal re-queue by returning
 * false; malformed payloads are dropped, since redelivery cannot fix them.
 *
 * @dependencies
 * - encoding/json, log: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - internal/domain: The lifecycle event payload and state types.
 */
package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
)

// EventHandler consumes one decoded transfer lifecycle event. Returning false
// re-queues the delivery for another attempt.
type EventHandler func(event domain.TransferLifecycleEvent) bool

// Consumer receives transfer lifecycle events from RabbitMQ.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeTransferEvents declares a durable queue on the transfer_events
// exchange, binds one state routing key per handler, and dispatches decoded
// lifecycle events until the channel closes.
func (c *Consumer) ConsumeTransferEvents(queueName string, handlers map[domain.TransferState]EventHandler) error {
	if len(handlers) == 0 {
		return fmt.Errorf("no lifecycle handlers provided")
	}

	if err := c.ch.ExchangeDeclare(TransferEventsExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	for state, handler := range handlers {
		if handler == nil {
			return fmt.Errorf("nil handler for state %s", state)
		}
		routingKey := "transfer.state." + string(state)
		if err := c.ch.QueueBind(q.Name, routingKey, TransferEventsExchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if dispatchTransferEvent(handlers, d.Body) {
				d.Ack(false)
			} else {
				d.Nack(false, true)
			}
		}
	}()

	return nil
}

// dispatchTransferEvent decodes one delivery and routes it by the event's new
// state. It returns whether the delivery should be acknowledged.
func dispatchTransferEvent(handlers map[domain.TransferState]EventHandler, body []byte) bool {
	var event domain.TransferLifecycleEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"dropping malformed event payload\" err=%v", err)
		return true
	}

	handler, ok := handlers[event.NewState]
	if !ok {
		// Bindings can outlive a handler after a topology change; acknowledge
		// so the queue does not back up.
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for event state; acknowledging to drop\" state=%s transfer_id=%s", event.NewState, event.TransferID)
		return true
	}

	if !handler(event) {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" state=%s transfer_id=%s seq=%d", event.NewState, event.TransferID, event.Seq)
		return false
	}
	return true
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
