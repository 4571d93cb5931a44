package event

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"policy-lifecycle-service/internal/apperrors"
	"policy-lifecycle-service/internal/config"
	"policy-lifecycle-service/internal/models"
	utils "policy-lifecycle-service/internal/utils"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	keys       []string
	declareErr error
	publishErr error
	failAfter  int
	deliveries chan amqp.Delivery
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil && len(c.published) >= c.failAfter {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	c.keys = append(c.keys, key)
	return nil
}

func (c *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue []bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []models.RecordPaymentRequest
	ids   []string
	err   error
}

func (r *fakeRecorder) RecordPayment(_ context.Context, id, installmentID string, req models.RecordPaymentRequest) (*models.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	r.ids = append(r.ids, id+"/"+installmentID)
	if r.err != nil {
		return nil, r.err
	}
	return &models.Policy{ID: id}, nil
}

func lifecycleEvents(n int) []models.LifecycleEvent {
	events := make([]models.LifecycleEvent, n)
	for i := range events {
		events[i] = models.LifecycleEvent{
			EventID:    "evt-" + string(rune('a'+i)),
			PolicyID:   "pol-1",
			Event:      models.EventPaymentReceived,
			Status:     models.PolicyActive,
			OccurredAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			Version:    3,
		}
	}
	return events
}

func delivery(t *testing.T, ack amqp.Acknowledger, payload any) amqp.Delivery {
	t.Helper()
	var body []byte
	switch v := payload.(type) {
	case string:
		body = []byte(v)
	default:
		var err error
		body, err = utils.SerializeModel(v)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

// ============================================================================
// TEST SUITE 1: LIFECYCLE PUBLISHER
// ============================================================================

func TestLifecyclePublisher_PublishesInOrder(t *testing.T) {
	ch := &fakeChannel{}
	publisher := newLifecyclePublisher(ch)

	require.NoError(t, publisher.PublishLifecycleEvents(context.Background(), lifecycleEvents(2)))
	require.NoError(t, publisher.PublishLifecycleEvents(context.Background(), lifecycleEvents(1)))

	assert.Equal(t, []string{LifecycleEventsQueue}, ch.declared, "queue is declared once")
	require.Len(t, ch.published, 3)
	assert.Equal(t, "evt-a", ch.published[0].MessageId)
	assert.Equal(t, "evt-b", ch.published[1].MessageId)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, models.EventPaymentReceived, ch.published[0].Type)
	assert.Equal(t, LifecycleEventsQueue, ch.keys[0])

	var decoded models.LifecycleEvent
	require.NoError(t, utils.DeserializeModel(ch.published[0].Body, &decoded))
	assert.Equal(t, "pol-1", decoded.PolicyID)
	assert.Equal(t, int64(3), decoded.Version)

	stats := publisher.Stats()
	assert.Equal(t, int64(3), stats.MessagesPublished)
	assert.Zero(t, stats.MessagesFailed)
}

func TestLifecyclePublisher_Failures(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("channel closed")}
	publisher := newLifecyclePublisher(ch)

	err := publisher.PublishLifecycleEvents(context.Background(), lifecycleEvents(2))
	require.Error(t, err)
	assert.Equal(t, int64(2), publisher.Stats().MessagesFailed)

	ch.declareErr = nil
	ch.publishErr = errors.New("flow control")
	ch.failAfter = 1
	err = publisher.PublishLifecycleEvents(context.Background(), lifecycleEvents(3))
	require.Error(t, err)

	stats := publisher.Stats()
	assert.Equal(t, int64(1), stats.MessagesPublished)
	assert.Equal(t, int64(4), stats.MessagesFailed)
}

func TestLifecyclePublisher_EmptyBatch(t *testing.T) {
	ch := &fakeChannel{}
	publisher := newLifecyclePublisher(ch)

	require.NoError(t, publisher.PublishLifecycleEvents(context.Background(), nil))
	assert.Empty(t, ch.declared)
}

// ============================================================================
// TEST SUITE 2: PAYMENT CONSUMER
// ============================================================================

func TestPaymentConsumer_RecordsPayment(t *testing.T) {
	recorder := &fakeRecorder{}
	consumer := &PaymentConsumer{recorder: recorder}
	ack := &fakeAcknowledger{}
	amount := decimal.NewFromInt(4500)

	outcome := consumer.processMessage(context.Background(), delivery(t, ack, models.PaymentConfirmation{
		PolicyID:      "pol-1",
		InstallmentID: "inst-1",
		PaidDate:      "2024-01-01",
		Reference:     "PSK-1001",
		Amount:        &amount,
		Provider:      "paystack",
	}))

	assert.Equal(t, outcomeAcked, outcome)
	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "pol-1/inst-1", recorder.ids[0])
	assert.Equal(t, "PSK-1001", recorder.calls[0].Reference)
	assert.Equal(t, models.SystemActor, recorder.calls[0].PerformedBy)
	require.NotNil(t, recorder.calls[0].Amount)
	assert.True(t, recorder.calls[0].Amount.Equal(amount))

	acks, nacks := ack.counts()
	assert.Equal(t, 1, acks)
	assert.Zero(t, nacks)
}

func TestPaymentConsumer_Outcomes(t *testing.T) {
	valid := models.PaymentConfirmation{PolicyID: "pol-1", InstallmentID: "inst-1", PaidDate: "2024-01-01", Reference: "PSK-1"}
	cases := []struct {
		name    string
		payload any
		err     error
		want    deliveryOutcome
		requeue bool
	}{
		{"malformed body", "{not json", nil, outcomeRejected, false},
		{"missing ids", models.PaymentConfirmation{Reference: "PSK-1"}, nil, outcomeRejected, false},
		{"duplicate payment", valid, apperrors.ErrAlreadyPaid, outcomeAcked, false},
		{"amount mismatch", valid, apperrors.ErrPayment, outcomeRejected, false},
		{"unknown installment", valid, apperrors.ErrUnknownInstallment, outcomeRejected, false},
		{"closed policy", valid, apperrors.ErrInvalidTransition, outcomeRejected, false},
		{"version conflict", valid, apperrors.ErrVersionConflict, outcomeRequeued, true},
		{"store outage", valid, errors.New("connection reset"), outcomeRequeued, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			consumer := &PaymentConsumer{recorder: &fakeRecorder{err: c.err}}
			ack := &fakeAcknowledger{}

			outcome := consumer.processMessage(context.Background(), delivery(t, ack, c.payload))

			assert.Equal(t, c.want, outcome)
			acks, nacks := ack.counts()
			if c.want == outcomeAcked {
				assert.Equal(t, 1, acks)
				return
			}
			require.Equal(t, 1, nacks)
			assert.Equal(t, c.requeue, ack.requeue[0])
		})
	}
}

func TestPaymentConsumer_StartConsumesUntilCancelled(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	recorder := &fakeRecorder{}
	consumer := &PaymentConsumer{channel: ch, recorder: recorder}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, consumer.Start(ctx))
	assert.Equal(t, []string{PaymentEventsQueue}, ch.declared)

	ack := &fakeAcknowledger{}
	ch.deliveries <- delivery(t, ack, models.PaymentConfirmation{
		PolicyID: "pol-1", InstallmentID: "inst-2", PaidDate: "2024-04-01", Reference: "PSK-2",
	})

	assert.Eventually(t, func() bool {
		acks, _ := ack.counts()
		return acks == 1
	}, time.Second, 10*time.Millisecond)
}

// ============================================================================
// CONNECTION
// ============================================================================

func TestAMQPURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.RabbitMQConfig
		password string
		vhost    string
	}{
		{
			name:     "defaults",
			cfg:      config.RabbitMQConfig{Username: "admin", Password: "admin", Host: "localhost", Port: "5672", VHost: "/"},
			password: "admin",
			vhost:    "/",
		},
		{
			name:     "reserved characters in password",
			cfg:      config.RabbitMQConfig{Username: "svc", Password: "p@ss:word/1?", Host: "mq.internal", Port: "5671", VHost: "/"},
			password: "p@ss:word/1?",
			vhost:    "/",
		},
		{
			name:     "named vhost",
			cfg:      config.RabbitMQConfig{Username: "svc", Password: "x", Host: "mq.internal", Port: "5672", VHost: "policies"},
			password: "x",
			vhost:    "policies",
		},
		{
			name:     "empty vhost",
			cfg:      config.RabbitMQConfig{Username: "svc", Password: "x", Host: "mq.internal", Port: "5672"},
			password: "x",
			vhost:    "/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := amqp.ParseURI(amqpURL(tt.cfg))
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Host, uri.Host)
			assert.Equal(t, tt.cfg.Username, uri.Username)
			assert.Equal(t, tt.password, uri.Password)
			assert.Equal(t, tt.vhost, uri.Vhost)
			assert.Equal(t, tt.cfg.Port, strconv.Itoa(uri.Port))
		})
	}
}

func TestRabbitMQConnection_CloseWithoutHandles(t *testing.T) {
	assert.NoError(t, (&RabbitMQConnection{}).Close())
}
