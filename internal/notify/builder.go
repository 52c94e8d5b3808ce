package notify

import (
	"github.com/google/uuid"

	"rxnotify/internal/types"
)

// BatchBuilder turns queued status updates into an NHS Notify message batch
// request. Every call mints a fresh batch reference; a split batch is a new
// batch as far as the provider is concerned.
type BatchBuilder struct {
	routingPlanID string
	logger        types.Logger
}

// NewBatchBuilder creates a builder bound to one routing plan.
func NewBatchBuilder(routingPlanID string, logger types.Logger) *BatchBuilder {
	return &BatchBuilder{routingPlanID: routingPlanID, logger: logger}
}

// Build constructs a batch request from the given updates. Updates missing a
// recipient NHS number or pharmacy ODS code cannot be routed and are returned
// separately so the caller can record them as failed; they are never silently
// dropped.
func (b *BatchBuilder) Build(updates []types.QueuedUpdate) (types.MessageBatchRequest, []types.QueuedUpdate, []types.QueuedUpdate) {
	batchRef := uuid.New().String()

	included := make([]types.QueuedUpdate, 0, len(updates))
	var skipped []types.QueuedUpdate
	items := make([]types.BatchItem, 0, len(updates))

	for _, u := range updates {
		if u.Update.NHSNumber == "" || u.Update.ODSCode == "" {
			b.logger.Error("update missing recipient fields, excluding from batch",
				"messageId", u.MessageID,
				"requestId", u.Update.RequestID,
			)
			skipped = append(skipped, u)
			continue
		}

		items = append(items, types.BatchItem{
			MessageReference: u.MessageReference,
			Recipient:        types.Recipient{NHSNumber: u.Update.NHSNumber},
			Originator:       types.Originator{ODSCode: u.Update.ODSCode},
			Personalisation: map[string]string{
				"requestId": u.Update.RequestID,
				"status":    u.Update.Status,
			},
		})
		included = append(included, u)
	}

	req := types.MessageBatchRequest{
		Data: types.MessageBatchData{
			Type: "MessageBatch",
			Attributes: types.MessageBatchAttrs{
				RoutingPlanID:  b.routingPlanID,
				BatchReference: batchRef,
				Messages:       items,
			},
		},
	}

	return req, included, skipped
}
