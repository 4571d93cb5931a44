package event

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"policy-lifecycle-service/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	LifecycleEventsQueue = "policy_lifecycle_events"
	PaymentEventsQueue   = "payment_events"

	connectionName = "policy-lifecycle-service"
	heartbeat      = 10 * time.Second
)

// RabbitMQConnection is the single connection and channel shared by the
// lifecycle publisher and the payment consumer.
type RabbitMQConnection struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

// amqpURL builds the broker URL with escaped credentials. The default vhost
// "/" is addressed by the bare "/" path.
func amqpURL(cfg config.RabbitMQConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, cfg.Port),
		Path:   "/",
	}
	if cfg.VHost != "" && cfg.VHost != "/" {
		u.Path = "/" + cfg.VHost
		u.RawPath = "/" + url.PathEscape(cfg.VHost)
	}
	return u.String()
}

// ConnectRabbitMQ dials the broker, opens the shared channel, limits unacked
// payment deliveries to cfg.Prefetch and declares both service queues.
func ConnectRabbitMQ(cfg config.RabbitMQConfig) (*RabbitMQConnection, error) {
	conn, err := amqp.DialConfig(amqpURL(cfg), amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: amqp.Table{"connection_name": connectionName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	rc := &RabbitMQConnection{Connection: conn}
	if rc.Channel, err = conn.Channel(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open rabbitmq channel: %w", err), rc.Close())
	}
	if cfg.Prefetch > 0 {
		if err := rc.Channel.Qos(cfg.Prefetch, 0, false); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to set prefetch %d: %w", cfg.Prefetch, err), rc.Close())
		}
	}
	for _, queue := range []string{LifecycleEventsQueue, PaymentEventsQueue} {
		if err := declareDurableQueue(rc.Channel, queue); err != nil {
			return nil, errors.Join(err, rc.Close())
		}
	}

	slog.Info("rabbitmq connected",
		"host", cfg.Host, "port", cfg.Port, "vhost", cfg.VHost, "prefetch", cfg.Prefetch)
	return rc, nil
}

// Close releases the channel, then the connection. Closing an already closed
// broker handle is not an error.
func (r *RabbitMQConnection) Close() error {
	var errs []error
	if r.Channel != nil {
		errs = append(errs, ignoreClosed(r.Channel.Close()))
	}
	if r.Connection != nil {
		errs = append(errs, ignoreClosed(r.Connection.Close()))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("rabbitmq close failed", "error", err)
		return err
	}
	slog.Info("rabbitmq connection closed")
	return nil
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func declareDurableQueue(ch queueDeclarer, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}
