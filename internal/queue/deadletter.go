package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"rxnotify/internal/types"
)

// DeadLetterForwarder moves permanently unprocessable messages (unparsable
// body, missing deduplication ID) to a dead-letter queue and then deletes
// them from the source queue. Without this, a malformed message would
// redeliver after every visibility timeout and be dropped again forever.
type DeadLetterForwarder struct {
	sender    sqsSendAPI
	deleter   sqsDeleteAPI
	sourceURL string
	dlqURL    string
	logger    types.Logger
}

// NewDeadLetterForwarder creates a forwarder from sourceURL to dlqURL.
func NewDeadLetterForwarder(sender sqsSendAPI, deleter sqsDeleteAPI, sourceURL, dlqURL string, logger types.Logger) *DeadLetterForwarder {
	return &DeadLetterForwarder{
		sender:    sender,
		deleter:   deleter,
		sourceURL: sourceURL,
		dlqURL:    dlqURL,
		logger:    logger,
	}
}

// Forward sends the message body to the dead-letter queue with a reason
// attribute, then deletes the original. The delete only happens after the
// DLQ send succeeds, so the message is never lost in transit.
func (f *DeadLetterForwarder) Forward(ctx context.Context, msg sqsTypes.Message, reason string) error {
	body := aws.ToString(msg.Body)
	if body == "" {
		// An empty body still deserves a DLQ record for investigation.
		body = "{}"
	}

	_, err := f.sender.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(f.dlqURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"rejectionReason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
			"sourceMessageId": {
				DataType:    aws.String("String"),
				StringValue: msg.MessageId,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: forwarding message to dead-letter queue: %w", err)
	}

	_, err = f.deleter.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(f.sourceURL),
		Entries: []sqsTypes.DeleteMessageBatchRequestEntry{
			{
				Id:            msg.MessageId,
				ReceiptHandle: msg.ReceiptHandle,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("queue: deleting dead-lettered message from source queue: %w", err)
	}

	f.logger.Warn("message dead-lettered",
		"message_id", aws.ToString(msg.MessageId),
		"reason", reason,
	)
	return nil
}
