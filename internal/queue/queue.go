// Package queue wraps the SQS operations used by the notification pipeline:
// long-poll draining with in-cycle deduplication, bounded batch deletion of
// processed messages, dead-letter redirection of unprocessable messages, and
// queue depth reporting.
//
// Draining is read-only with respect to the queue: no delete and no
// visibility change happens during a drain. Deletion is a separate, later
// step gated on processing having reached a terminal outcome.
package queue

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// sqsReceiveAPI is the subset of the SQS SDK client used by the Drainer.
type sqsReceiveAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// sqsDeleteAPI is the subset of the SQS SDK client used by the Cleaner.
type sqsDeleteAPI interface {
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// sqsSendAPI is the subset of the SQS SDK client used for dead-letter
// forwarding.
type sqsSendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

const (
	// maxReceiveBatch is the SQS per-call receive ceiling.
	maxReceiveBatch = 10

	// maxDeleteBatch is the SQS per-call delete ceiling.
	maxDeleteBatch = 10

	// longPollWaitSeconds is the receive long-poll duration. An empty queue
	// returns quickly without busy-looping; a busy queue fills the batch
	// without waiting out the full period.
	longPollWaitSeconds = 20
)
