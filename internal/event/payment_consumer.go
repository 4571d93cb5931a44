package event

import (
	"context"
	"fmt"
	"log/slog"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PaymentRecorder settles an installment. *services.PolicyEngine satisfies it.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, id, installmentID string, req models.RecordPaymentRequest) (*models.Policy, error)
}

type consumeChannel interface {
	queueDeclarer
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// PaymentConsumer applies payment confirmations from the payment_events
// queue to the installment ledger.
type PaymentConsumer struct {
	channel  consumeChannel
	recorder PaymentRecorder
}

func NewPaymentConsumer(conn *RabbitMQConnection, recorder PaymentRecorder) *PaymentConsumer {
	return &PaymentConsumer{channel: conn.Channel, recorder: recorder}
}

// Start begins consuming payment events
func (c *PaymentConsumer) Start(ctx context.Context) error {
	if err := declareDurableQueue(c.channel, PaymentEventsQueue); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(
		PaymentEventsQueue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (we'll manually ack after processing)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", PaymentEventsQueue, err)
	}

	slog.Info("Payment consumer started", "queue", PaymentEventsQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("Payment consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("Payment consumer channel closed")
					return
				}
				c.processMessage(ctx, msg)
			}
		}
	}()

	return nil
}

// deliveryOutcome is what happened to one message.
type deliveryOutcome string

const (
	outcomeAcked    deliveryOutcome = "acked"
	outcomeRejected deliveryOutcome = "rejected"
	outcomeRequeued deliveryOutcome = "requeued"
)

func (c *PaymentConsumer) processMessage(ctx context.Context, msg amqp.Delivery) deliveryOutcome {
	var confirmation models.PaymentConfirmation
	if err := utils.DeserializeModel(msg.Body, &confirmation); err != nil {
		slog.Error("failed to unmarshal payment event", "error", err)
		// malformed, never retried
		msg.Nack(false, false)
		return outcomeRejected
	}
	if confirmation.PolicyID == "" || confirmation.InstallmentID == "" {
		slog.Error("payment event without policy or installment id",
			"policy_id", confirmation.PolicyID, "installment_id", confirmation.InstallmentID)
		msg.Nack(false, false)
		return outcomeRejected
	}

	slog.Info("Received payment event",
		"policy_id", confirmation.PolicyID,
		"installment_id", confirmation.InstallmentID,
		"reference", confirmation.Reference,
		"provider", confirmation.Provider,
	)

	_, err := c.recorder.RecordPayment(ctx, confirmation.PolicyID, confirmation.InstallmentID, models.RecordPaymentRequest{
		PaidDate:    confirmation.PaidDate,
		Reference:   confirmation.Reference,
		Amount:      confirmation.Amount,
		PerformedBy: models.SystemActor,
	})

	switch code := apperrors.CodeOf(err); {
	case err == nil:
		msg.Ack(false)
		slog.Info("Payment event processed successfully",
			"policy_id", confirmation.PolicyID, "installment_id", confirmation.InstallmentID)
		return outcomeAcked
	case code == apperrors.CodeAlreadyPaid:
		// redelivery of a payment that was already applied
		msg.Ack(false)
		slog.Warn("duplicate payment event acknowledged",
			"policy_id", confirmation.PolicyID, "installment_id", confirmation.InstallmentID)
		return outcomeAcked
	case code == apperrors.CodeVersionConflict || code == apperrors.CodeUnknown || code == apperrors.CodeInternal:
		slog.Error("failed to handle payment event, requeueing",
			"policy_id", confirmation.PolicyID, "error", err)
		msg.Nack(false, true)
		return outcomeRequeued
	default:
		slog.Error("payment event rejected",
			"policy_id", confirmation.PolicyID, "code", code, "error", err)
		msg.Nack(false, false)
		return outcomeRejected
	}
}
