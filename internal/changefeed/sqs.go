package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/aws"
)

// SQSPublisher sends changes to a queue consumed by the projector Lambda.
type SQSPublisher struct {
	SQS      aws.SQSAPI
	QueueURL string
}

func NewSQSPublisher(client aws.SQSAPI, queueURL string) *SQSPublisher {
	return &SQSPublisher{SQS: client, QueueURL: queueURL}
}

func (p *SQSPublisher) Publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	attrs := map[string]string{
		"order_id": c.OrderID,
		"shop_id":  c.ShopID,
		"status":   c.Status.String(),
		"version":  strconv.Itoa(c.Version),
	}
	if c.CorrelationID != "" {
		attrs["correlation_id"] = c.CorrelationID
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          &p.QueueURL,
		MessageBody:       aws.String(string(body)),
		MessageAttributes: make(map[string]sqstypes.MessageAttributeValue, len(attrs)),
	}
	for k, v := range attrs {
		input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	if _, err := p.SQS.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send change for order %s: %w", c.OrderID, err)
	}
	return nil
}
