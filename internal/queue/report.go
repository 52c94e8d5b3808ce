package queue

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"rxnotify/internal/types"
)

// QueueDepth is a snapshot of the source queue's approximate message counts.
// A value of -1 means the attribute was missing from the response.
type QueueDepth struct {
	Visible    int
	NotVisible int
	Delayed    int
}

// ReportQueueStatus fetches and logs the queue's approximate depth. The
// numbers are diagnostic only; the drain loop never depends on them.
func ReportQueueStatus(ctx context.Context, client sqsReceiveAPI, queueURL string, logger types.Logger) (QueueDepth, error) {
	out, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []sqsTypes.QueueAttributeName{
			sqsTypes.QueueAttributeNameApproximateNumberOfMessages,
			sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return QueueDepth{}, types.NewAppError(types.ErrCodeUpstreamQueue,
			"failed to fetch queue attributes", err)
	}

	depth := QueueDepth{
		Visible:    attrInt(out.Attributes, sqsTypes.QueueAttributeNameApproximateNumberOfMessages),
		NotVisible: attrInt(out.Attributes, sqsTypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:    attrInt(out.Attributes, sqsTypes.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}

	logger.Info("current queue depth (missing attributes reported as -1)",
		"approximate_visible", depth.Visible,
		"approximate_not_visible", depth.NotVisible,
		"approximate_delayed", depth.Delayed,
	)

	return depth, nil
}

// attrInt parses a numeric queue attribute, falling back to -1 so missing
// data is identifiable in logs.
func attrInt(attrs map[string]string, name sqsTypes.QueueAttributeName) int {
	raw, ok := attrs[string(name)]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
