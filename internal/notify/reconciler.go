package notify

import (
	"rxnotify/internal/types"
)

// Reconcile matches provider acknowledgements back to the updates that were
// sent. Matching is by messageReference only; the provider does not promise
// to preserve item order, so positional matching would mis-attribute IDs.
//
// A nil response means the whole batch failed: every update gets a failed
// outcome with no provider message ID. An acknowledged update gets the
// requested status and its provider ID; an update the provider did not
// acknowledge is failed.
func Reconcile(included []types.QueuedUpdate, batchRef string, resp *types.MessageBatchResponse, status types.MessageStatus) []types.DeliveryOutcome {
	outcomes := make([]types.DeliveryOutcome, 0, len(included))

	if resp == nil {
		for _, u := range included {
			outcomes = append(outcomes, types.DeliveryOutcome{
				MessageReference: u.MessageReference,
				BatchReference:   batchRef,
				Status:           types.StatusFailed,
			})
		}
		return outcomes
	}

	acked := make(map[string]string, len(resp.Data.Attributes.Messages))
	for _, m := range resp.Data.Attributes.Messages {
		acked[m.MessageReference] = m.ID
	}

	for _, u := range included {
		providerID, ok := acked[u.MessageReference]
		if !ok {
			outcomes = append(outcomes, types.DeliveryOutcome{
				MessageReference: u.MessageReference,
				BatchReference:   batchRef,
				Status:           types.StatusFailed,
			})
			continue
		}
		outcomes = append(outcomes, types.DeliveryOutcome{
			MessageReference:  u.MessageReference,
			BatchReference:    batchRef,
			Status:            status,
			ProviderMessageID: providerID,
		})
	}

	return outcomes
}
