package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleOrder() *orders.Order {
	return &orders.Order{
		OrderID: "o1", OrderNumber: "ORD-2025-000001", UserID: "u1",
		Status: orders.StatusPending, Total: 2000, Currency: "USD",
	}
}

func TestNewCarriesSummary(t *testing.T) {
	ev := New(OrderPlaced, sampleOrder())
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "o1", ev.OrderID)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "ORD-2025-000001", ev.Order.OrderNumber)
}

func TestSQSPublisher(t *testing.T) {
	f := &fakeSQS{}
	p := NewSQSPublisher(f, "https://sqs.local/orders")
	require.NoError(t, p.Publish(context.Background(), New(OrderPlaced, sampleOrder())))

	require.Len(t, f.inputs, 1)
	in := f.inputs[0]
	assert.Equal(t, "https://sqs.local/orders", *in.QueueUrl)
	assert.Equal(t, "order.placed", *in.MessageAttributes["event_type"].StringValue)
	assert.Equal(t, "o1", *in.MessageAttributes["order_id"].StringValue)

	decoded, err := Decode([]byte(*in.MessageBody))
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced, decoded.Type)

	f.err = errors.New("boom")
	assert.Error(t, p.Publish(context.Background(), New(OrderPlaced, sampleOrder())))
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "orders"}
	ev := New(OrderCancelled, sampleOrder())
	require.NoError(t, p.Publish(context.Background(), ev))

	assert.Equal(t, "orders", ch.exchange)
	assert.Equal(t, "order.cancelled", ch.key)
	assert.Equal(t, uint8(amqp.Persistent), ch.msg.DeliveryMode)
	assert.Equal(t, ev.ID, ch.msg.MessageId)
	var body Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &body))
	assert.Equal(t, "o1", body.OrderID)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "payment", body: `{"type":"payment.updated","order_id":"o1","payment_status":"paid","payment_refs":["ch_1"]}`},
		{name: "status", body: `{"type":"order.status","order_id":"o1","status":"shipped"}`},
		{name: "payment without status", body: `{"type":"payment.updated","order_id":"o1"}`, wantErr: true},
		{name: "status without target", body: `{"type":"order.status","order_id":"o1"}`, wantErr: true},
		{name: "missing order", body: `{"type":"order.status","status":"shipped"}`, wantErr: true},
		{name: "unknown type", body: `{"type":"order.exploded","order_id":"o1"}`, wantErr: true},
		{name: "not json", body: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
