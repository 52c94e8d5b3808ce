package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"rxnotify/internal/types"
)

// Cleaner deletes processed messages from the source queue in delete batches
// of up to 10 (the SQS per-call ceiling).
//
// Deletion is the final pipeline step: a message is deleted only once its
// state record write has completed. Partial batch-delete failures are logged
// and not retried inline; an undeleted message simply reappears after its
// visibility timeout and is reprocessed, which is safe because state writes
// are idempotent upserts.
type Cleaner struct {
	client   sqsDeleteAPI
	queueURL string
	logger   types.Logger
}

// NewCleaner creates a Cleaner for the given source queue.
func NewCleaner(client sqsDeleteAPI, queueURL string, logger types.Logger) *Cleaner {
	return &Cleaner{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Remove deletes the given updates' messages from the queue. A failed delete
// call for one chunk does not stop the remaining chunks.
func (c *Cleaner) Remove(ctx context.Context, updates []types.QueuedUpdate) {
	if len(updates) == 0 {
		return
	}

	total := (len(updates) + maxDeleteBatch - 1) / maxDeleteBatch
	batchIndex := 0

	for i := 0; i < len(updates); i += maxDeleteBatch {
		batchIndex++

		end := i + maxDeleteBatch
		if end > len(updates) {
			end = len(updates)
		}
		chunk := updates[i:end]

		entries := make([]sqsTypes.DeleteMessageBatchRequestEntry, len(chunk))
		for j, u := range chunk {
			entries[j] = sqsTypes.DeleteMessageBatchRequestEntry{
				Id:            aws.String(u.MessageID),
				ReceiptHandle: aws.String(u.ReceiptHandle),
			}
		}

		out, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(c.queueURL),
			Entries:  entries,
		})
		if err != nil {
			c.logger.Error("failed to delete message batch",
				"batch", fmt.Sprintf("%d/%d", batchIndex, total),
				"batch_size", len(entries),
				"error", err.Error(),
			)
			continue
		}

		if len(out.Failed) > 0 {
			failedIDs := make([]string, len(out.Failed))
			for k, f := range out.Failed {
				failedIDs[k] = aws.ToString(f.Id)
			}
			c.logger.Error("some messages failed to delete in this batch",
				"batch", fmt.Sprintf("%d/%d", batchIndex, total),
				"failed_message_ids", failedIDs,
			)
			continue
		}

		c.logger.Info("deleted processed message batch",
			"batch", fmt.Sprintf("%d/%d", batchIndex, total),
			"batch_size", len(entries),
		)
	}
}
