package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/notify"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     bool
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if durable {
		c.declared = append(c.declared, name)
	}
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func sample() booking.Notification {
	return booking.Notification{
		Kind:          booking.NotifyConfirmation,
		ReservationID: 42,
		Status:        booking.StatusConfirmed,
		GuestEmail:    "aline@example.com",
		UnitName:      "A",
		Arrival:       "2025-03-01",
		Departure:     "2025-03-04",
		Total:         "300.00",
		AccessURL:     "https://stay.test/html/bookingdetails.html?reservation_id=42&token=secret",
		OccurredAt:    time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAMQPPublisher_PublishesPersistentJSON(t *testing.T) {
	// GIVEN: a publisher on an open channel
	ch := &fakeChannel{}
	p, err := notify.NewAMQPPublisher(ch, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{notify.DefaultQueue}, ch.declared)

	// WHEN: a confirmation is published
	require.NoError(t, p.Notify(context.Background(), sample()))

	// THEN: one persistent JSON message routed to the durable queue
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, notify.DefaultQueue, ch.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "confirmation", msg.Type)

	var got booking.Notification
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, booking.ReservationID(42), got.ReservationID)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
}

func TestAMQPPublisher_FailureDropsChannel(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := notify.NewAMQPPublisher(ch, "custom.queue", nil)
	require.NoError(t, err)

	assert.Error(t, p.Notify(context.Background(), sample()))
	assert.True(t, ch.closed)

	// No dialer: the publisher stays down rather than panicking
	assert.Error(t, p.Notify(context.Background(), sample()))
}

func TestLogNotifier_OmitsAccessURL(t *testing.T) {
	log, hook := test.NewNullLogger()
	n := notify.LogNotifier{Log: log}

	require.NoError(t, n.Notify(context.Background(), sample()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, booking.ReservationID(42), entry.Data["reservation_id"])
	for _, v := range entry.Data {
		assert.NotContains(t, fmt.Sprint(v), "token=")
	}
}
