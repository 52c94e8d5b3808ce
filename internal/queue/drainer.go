package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"rxnotify/internal/types"
)

// DrainResult is the outcome of one drain cycle.
type DrainResult struct {
	Updates []types.QueuedUpdate

	// IsEmpty reports that the queue is effectively drained: the last
	// receive returned zero messages, or fewer than the configured
	// minimum batch threshold.
	IsEmpty bool
}

// Drainer pulls prescription status updates off the source queue in receive
// batches of up to 10, using long polling, until a message-count goal is met
// or the queue runs dry.
//
// Draining itself never deletes and never alters visibility. Messages that
// cannot be processed at all (unparsable body, missing deduplication ID) are
// handed to the DeadLetterForwarder, which removes them from the source queue
// so they do not redeliver forever.
type Drainer struct {
	client     sqsReceiveAPI
	queueURL   string
	deadLetter *DeadLetterForwarder // nil disables dead-lettering (drop only)
	logger     types.Logger
}

// NewDrainer creates a Drainer for the given source queue. deadLetter may be
// nil, in which case unprocessable messages are dropped (logged) and left to
// the queue's own redelivery.
func NewDrainer(client sqsReceiveAPI, queueURL string, deadLetter *DeadLetterForwarder, logger types.Logger) *Drainer {
	return &Drainer{
		client:     client,
		queueURL:   queueURL,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Drain receives up to maxTotal updates from the queue. It stops early, with
// IsEmpty set, when a receive returns no messages or fewer than
// minBatchThreshold messages (to avoid thrashing a near-empty queue).
//
// Within one drain cycle, only the first message per deduplication ID is
// retained; later occurrences are logged and discarded. Each retained update
// is assigned a fresh message reference at parse time.
func (d *Drainer) Drain(ctx context.Context, maxTotal, minBatchThreshold int) (DrainResult, error) {
	dedup := NewDeduplicator(d.logger)

	var all []types.QueuedUpdate
	received := 0
	isEmpty := false
	iteration := 0

	for received < maxTotal {
		select {
		case <-ctx.Done():
			return DrainResult{}, fmt.Errorf("queue: drain cancelled: %w", ctx.Err())
		default:
		}
		iteration++

		toFetch := maxTotal - received
		if toFetch > maxReceiveBatch {
			toFetch = maxReceiveBatch
		}

		out, err := d.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(d.queueURL),
			MaxNumberOfMessages: int32(toFetch),
			WaitTimeSeconds:     longPollWaitSeconds,
			MessageSystemAttributeNames: []sqsTypes.MessageSystemAttributeName{
				sqsTypes.MessageSystemAttributeNameMessageDeduplicationId,
				sqsTypes.MessageSystemAttributeNameSentTimestamp,
			},
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			return DrainResult{}, types.NewAppError(types.ErrCodeUpstreamQueue,
				"failed to receive messages from notification queue", err)
		}

		if len(out.Messages) == 0 {
			isEmpty = true
			d.logger.Info("no messages received; marking queue as empty",
				"polling_iteration", iteration,
			)
			break
		}

		accepted := 0
		for _, msg := range out.Messages {
			update, ok := d.parseMessage(ctx, msg)
			if !ok {
				continue
			}
			if !dedup.FirstSeen(update.DedupID) {
				continue
			}
			all = append(all, update)
			accepted++
		}
		received += accepted

		// A small receive batch means the queue has barely enough messages
		// to keep the consumer alive; treat it as drained rather than
		// long-polling repeatedly for stragglers.
		if len(out.Messages) < minBatchThreshold {
			isEmpty = true
			d.logger.Info("received a small batch; considering the queue drained",
				"batch_length", len(out.Messages),
				"min_batch_threshold", minBatchThreshold,
			)
			break
		}
	}

	d.logger.Info("drain cycle complete",
		"accepted", len(all),
		"polling_iterations", iteration,
		"queue_empty", isEmpty,
	)

	return DrainResult{Updates: all, IsEmpty: isEmpty}, nil
}

// parseMessage converts one raw SQS message into a QueuedUpdate. Messages
// with an unparsable body or no deduplication ID cannot be processed safely;
// they are dead-lettered (or dropped) and excluded from the drain result.
func (d *Drainer) parseMessage(ctx context.Context, msg sqsTypes.Message) (types.QueuedUpdate, bool) {
	messageID := aws.ToString(msg.MessageId)

	if msg.Body == nil || *msg.Body == "" {
		d.logger.Error("received an SQS message with no body; omitting from processing",
			"message_id", messageID,
		)
		d.reject(ctx, msg, "empty_body")
		return types.QueuedUpdate{}, false
	}

	var update types.StatusUpdate
	if err := json.Unmarshal([]byte(*msg.Body), &update); err != nil {
		d.logger.Error("failed to parse SQS message body as a status update; omitting from processing",
			"message_id", messageID,
			"error", err.Error(),
		)
		d.reject(ctx, msg, "unparsable_body")
		return types.QueuedUpdate{}, false
	}

	dedupID := msg.Attributes[string(sqsTypes.MessageSystemAttributeNameMessageDeduplicationId)]
	if dedupID == "" {
		d.logger.Error("SQS message missing MessageDeduplicationId; skipping this message",
			"message_id", messageID,
		)
		d.reject(ctx, msg, "missing_deduplication_id")
		return types.QueuedUpdate{}, false
	}

	return types.QueuedUpdate{
		MessageID:        messageID,
		ReceiptHandle:    aws.ToString(msg.ReceiptHandle),
		DedupID:          dedupID,
		SentTimestamp:    parseSentTimestamp(msg.Attributes),
		Update:           update,
		MessageReference: uuid.New().String(),
	}, true
}

// reject forwards an unprocessable message to the dead-letter queue when one
// is configured. Without a DLQ the message is merely dropped from this cycle
// and will redeliver after its visibility timeout.
func (d *Drainer) reject(ctx context.Context, msg sqsTypes.Message, reason string) {
	if d.deadLetter == nil {
		return
	}
	if err := d.deadLetter.Forward(ctx, msg, reason); err != nil {
		d.logger.Error("failed to dead-letter unprocessable message",
			"message_id", aws.ToString(msg.MessageId),
			"reason", reason,
			"error", err.Error(),
		)
	}
}

// parseSentTimestamp extracts the SentTimestamp system attribute (epoch
// milliseconds). Returns the zero time when absent or malformed.
func parseSentTimestamp(attrs map[string]string) time.Time {
	raw, ok := attrs[string(sqsTypes.MessageSystemAttributeNameSentTimestamp)]
	if !ok {
		return time.Time{}
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
