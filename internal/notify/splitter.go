package notify

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"

	"rxnotify/internal/types"
)

// maxSplitDepth bounds the halving recursion. 2^32 leaves is far beyond any
// drainable queue, so hitting the cap means the size estimate is broken;
// fail the subtree rather than recurse forever.
const maxSplitDepth = 32

// RecursiveSplitter dispatches a set of updates as one batch when it fits
// provider limits, or recursively halves the set and dispatches the halves
// concurrently when it does not. Every half becomes an independent batch with
// its own batch reference. A dispatch failure fails only the updates in that
// subtree; outcomes for the full input are always returned in input order.
type RecursiveSplitter struct {
	builder    *BatchBuilder
	dispatcher Dispatcher
	maxItems   int
	maxBytes   int
	logger     types.Logger
}

// NewRecursiveSplitter wires a splitter over the given builder and dispatcher.
func NewRecursiveSplitter(builder *BatchBuilder, dispatcher Dispatcher, maxItems, maxBytes int, logger types.Logger) *RecursiveSplitter {
	return &RecursiveSplitter{
		builder:    builder,
		dispatcher: dispatcher,
		maxItems:   maxItems,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// Send dispatches the updates and returns one outcome per update, in the
// same order as the input. An error is returned only for cancellation or a
// broken recursion; provider failures surface as failed outcomes instead.
func (s *RecursiveSplitter) Send(ctx context.Context, updates []types.QueuedUpdate) ([]types.DeliveryOutcome, error) {
	outcomes, err := s.send(ctx, updates, 0)
	if err != nil {
		return nil, err
	}

	// Recursion concatenates subtree results; restore input order by
	// message reference so callers can zip outcomes against their input.
	byRef := make(map[string]types.DeliveryOutcome, len(outcomes))
	for _, o := range outcomes {
		byRef[o.MessageReference] = o
	}
	ordered := make([]types.DeliveryOutcome, 0, len(updates))
	for _, u := range updates {
		if o, ok := byRef[u.MessageReference]; ok {
			ordered = append(ordered, o)
		}
	}
	return ordered, nil
}

func (s *RecursiveSplitter) send(ctx context.Context, updates []types.QueuedUpdate, depth int) ([]types.DeliveryOutcome, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, included, skipped := s.builder.Build(updates)
	batchRef := req.Data.Attributes.BatchReference

	skippedOutcomes := make([]types.DeliveryOutcome, 0, len(skipped))
	for _, u := range skipped {
		skippedOutcomes = append(skippedOutcomes, types.DeliveryOutcome{
			MessageReference: u.MessageReference,
			BatchReference:   batchRef,
			Status:           types.StatusFailed,
		})
	}

	if len(included) == 0 {
		return skippedOutcomes, nil
	}

	// A single update can never be halved; send it whatever its size and
	// let the provider reject it if it must.
	if len(included) > 1 && s.oversized(req, len(included)) {
		if depth >= maxSplitDepth {
			s.logger.Error("batch split depth exceeded, failing subtree",
				"batchReference", batchRef,
				"messages", len(included),
			)
			return append(Reconcile(included, batchRef, nil, s.dispatcher.AckStatus()), skippedOutcomes...), nil
		}

		mid := len(included) / 2
		s.logger.Info("batch over provider limits, splitting",
			"batchReference", batchRef,
			"messages", len(included),
			"depth", depth,
		)

		var left, right []types.DeliveryOutcome
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			left, err = s.send(gctx, included[:mid], depth+1)
			return err
		})
		g.Go(func() error {
			var err error
			right, err = s.send(gctx, included[mid:], depth+1)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		out := make([]types.DeliveryOutcome, 0, len(left)+len(right)+len(skippedOutcomes))
		out = append(out, left...)
		out = append(out, right...)
		return append(out, skippedOutcomes...), nil
	}

	resp, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error("batch dispatch failed, recording whole batch as failed",
			"batchReference", batchRef,
			"messages", len(included),
			"error", err.Error(),
		)
		return append(Reconcile(included, batchRef, nil, s.dispatcher.AckStatus()), skippedOutcomes...), nil
	}

	return append(Reconcile(included, batchRef, resp, s.dispatcher.AckStatus()), skippedOutcomes...), nil
}

// oversized reports whether the encoded batch breaches the provider's item
// count or payload size limits.
func (s *RecursiveSplitter) oversized(req types.MessageBatchRequest, items int) bool {
	if items >= s.maxItems {
		return true
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return false
	}
	return len(encoded) > s.maxBytes
}
