package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// SQSPublisher sends events to one queue as JSON messages.
type SQSPublisher struct {
	client   aws.SQSAPI
	queueURL string
}

// NewSQSPublisher returns a publisher bound to a queue URL.
func NewSQSPublisher(client aws.SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL}
}

// Publish sends ev. The event type and order id travel as message
// attributes so subscriptions can filter without parsing the body.
func (p *SQSPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: stringPtr(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: stringPtr("String"), StringValue: stringPtr(string(ev.Type))},
			"order_id":   {DataType: stringPtr("String"), StringValue: stringPtr(ev.OrderID)},
		},
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func stringPtr(s string) *string { return &s }
