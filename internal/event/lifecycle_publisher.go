package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publishChannel is the subset of *amqp.Channel the publisher needs.
type publishChannel interface {
	queueDeclarer
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// LifecyclePublisher fans policy timeline entries out to the
// policy_lifecycle_events queue, one persistent message per entry.
type LifecyclePublisher struct {
	channel publishChannel

	mu                sync.Mutex
	declared          bool
	messagesPublished int64
	messagesFailed    int64
	lastPublishTime   time.Time
}

func NewLifecyclePublisher(conn *RabbitMQConnection) *LifecyclePublisher {
	return newLifecyclePublisher(conn.Channel)
}

func newLifecyclePublisher(ch publishChannel) *LifecyclePublisher {
	return &LifecyclePublisher{channel: ch, lastPublishTime: time.Now()}
}

// PublishLifecycleEvents publishes events in order and stops at the first
// failure; the rest of the batch is reported as failed.
func (p *LifecyclePublisher) PublishLifecycleEvents(ctx context.Context, events []models.LifecycleEvent) error {
	if len(events) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared {
		if err := declareDurableQueue(p.channel, LifecycleEventsQueue); err != nil {
			p.messagesFailed += int64(len(events))
			return err
		}
		p.declared = true
	}

	for i, event := range events {
		body, err := utils.SerializeModel(event)
		if err != nil {
			p.messagesFailed += int64(len(events) - i)
			return fmt.Errorf("failed to marshal lifecycle event: %w", err)
		}

		err = p.channel.PublishWithContext(
			ctx,
			"",                   // exchange
			LifecycleEventsQueue, // routing key (queue name)
			false,                // mandatory
			false,                // immediate
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  "application/json",
				MessageId:    event.EventID,
				Type:         event.Event,
				Body:         body,
				Timestamp:    event.OccurredAt,
			},
		)
		if err != nil {
			p.messagesFailed += int64(len(events) - i)
			return fmt.Errorf("failed to publish lifecycle event %s: %w", event.EventID, err)
		}
		p.messagesPublished++
	}
	p.lastPublishTime = time.Now()

	slog.Info("Lifecycle events published",
		"queue", LifecycleEventsQueue,
		"policy_id", events[0].PolicyID,
		"count", len(events),
	)
	return nil
}

// PublisherHealthStatus represents the health status of the publisher
type PublisherHealthStatus struct {
	MessagesPublished int64     `json:"messages_published"`
	MessagesFailed    int64     `json:"messages_failed"`
	LastPublishTime   time.Time `json:"last_publish_time"`
	Queue             string    `json:"queue"`
}

func (p *LifecyclePublisher) Stats() PublisherHealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublisherHealthStatus{
		MessagesPublished: p.messagesPublished,
		MessagesFailed:    p.messagesFailed,
		LastPublishTime:   p.lastPublishTime,
		Queue:             LifecycleEventsQueue,
	}
}
