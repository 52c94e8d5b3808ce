// Package pipeline orchestrates one worker invocation: report queue depth,
// drain the notification queue, suppress recipients still inside their
// cooldown window, dispatch the remainder to the messaging provider, persist
// per-message state, and delete the messages whose state was recorded.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"rxnotify/internal/config"
	"rxnotify/internal/queue"
	"rxnotify/internal/types"
)

// cooldownConcurrency bounds parallel state lookups during eligibility
// filtering so a large drain does not exhaust the connection pool.
const cooldownConcurrency = 8

// Drainer pulls updates off the source queue. Implemented by queue.Drainer.
type Drainer interface {
	Drain(ctx context.Context, maxTotal, minBatchThreshold int) (queue.DrainResult, error)
}

// Remover deletes processed messages. Implemented by queue.Cleaner.
type Remover interface {
	Remove(ctx context.Context, updates []types.QueuedUpdate)
}

// Sender dispatches updates to the provider, returning one outcome per
// update in input order. Implemented by notify.RecursiveSplitter.
type Sender interface {
	Send(ctx context.Context, updates []types.QueuedUpdate) ([]types.DeliveryOutcome, error)
}

// SenderFunc resolves the sender for the current run. The live/silent choice
// and the provider base URL come from runtime configuration, so resolution
// happens per invocation rather than at startup.
type SenderFunc func(ctx context.Context) (Sender, error)

// StateStore is the persistence surface the pipeline needs: cooldown reads,
// outcome writes, and TTL reclamation.
type StateStore interface {
	types.StateReader
	types.StateWriter
	DeleteExpired(ctx context.Context) (int64, error)
}

// DepthReporter logs queue depth before each drain. Implemented by a thin
// wrapper over queue.ReportQueueStatus.
type DepthReporter func(ctx context.Context) (queue.QueueDepth, error)

// RunSummary aggregates counters across all iterations of one invocation.
type RunSummary struct {
	Iterations int
	Drained    int
	Suppressed int
	Dispatched int
	Failed     int
	Deferred   int
	Expired    int64
}

// Processor runs the drain-dispatch-persist-cleanup loop.
type Processor struct {
	cfg       config.PipelineConfig
	drainer   Drainer
	remover   Remover
	senderFor SenderFunc
	store     StateStore
	depth     DepthReporter
	metrics   Metrics
	logger    types.Logger
	now       func() time.Time
}

// NewProcessor wires a Processor. depth may be nil to skip depth reporting;
// metrics may be nil for NopMetrics.
func NewProcessor(
	cfg config.PipelineConfig,
	drainer Drainer,
	remover Remover,
	senderFor SenderFunc,
	store StateStore,
	depth DepthReporter,
	metrics Metrics,
	logger types.Logger,
) *Processor {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Processor{
		cfg:       cfg,
		drainer:   drainer,
		remover:   remover,
		senderFor: senderFor,
		store:     store,
		depth:     depth,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Run drains the queue to empty (or until the invocation budget expires),
// processing each drained batch end to end before polling again. An empty
// queue is a successful no-op.
func (p *Processor) Run(ctx context.Context) (RunSummary, error) {
	started := p.now()
	deadline := started.Add(p.cfg.InvocationBudget)

	var summary RunSummary

	for {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("pipeline: run cancelled: %w", err)
		}
		if p.now().After(deadline) {
			p.logger.Warn("invocation budget exhausted; leaving remaining messages for the next run",
				"budget", p.cfg.InvocationBudget.String(),
				"iterations", summary.Iterations,
			)
			break
		}
		summary.Iterations++

		if p.depth != nil {
			if _, err := p.depth(ctx); err != nil {
				p.logger.Warn("queue depth report failed", "error", err.Error())
			}
		}

		result, err := p.drainer.Drain(ctx, p.cfg.MaxDrainTotal, p.cfg.MinBatchThreshold)
		if err != nil {
			return summary, err
		}

		summary.Drained += len(result.Updates)
		p.metrics.RecordDrained(ctx, len(result.Updates))
		p.recordQueueLag(ctx, result.Updates)

		if len(result.Updates) > 0 {
			if err := p.processBatch(ctx, result.Updates, &summary); err != nil {
				return summary, err
			}
		}

		if result.IsEmpty {
			break
		}
	}

	expired, err := p.store.DeleteExpired(ctx)
	if err != nil {
		// Reclamation is maintenance; the run itself already succeeded.
		p.logger.Warn("failed to delete expired notification state", "error", err.Error())
	} else if expired > 0 {
		summary.Expired = expired
		p.logger.Info("deleted expired notification state", "records", expired)
	}

	p.logger.Info("pipeline run complete",
		"iterations", summary.Iterations,
		"drained", summary.Drained,
		"suppressed", summary.Suppressed,
		"dispatched", summary.Dispatched,
		"failed", summary.Failed,
		"deferred", summary.Deferred,
		"duration", p.now().Sub(started).String(),
	)

	return summary, nil
}

// processBatch handles one drained batch: cooldown filtering, dispatch,
// state persistence, and deletion of everything that reached a recorded
// terminal for this cycle.
func (p *Processor) processBatch(ctx context.Context, updates []types.QueuedUpdate, summary *RunSummary) error {
	eligible, suppressed, deferred, err := p.filterCooldown(ctx, updates)
	if err != nil {
		return err
	}

	summary.Suppressed += len(suppressed)
	summary.Deferred += len(deferred)
	p.metrics.RecordSuppressed(ctx, len(suppressed))

	// Suppression is a processed outcome: the recipient was recently
	// notified and this update is intentionally not sent again. Deferred
	// updates (state lookups that errored) are left on the queue to
	// redeliver; sending without knowing the cooldown state could spam a
	// patient.
	p.remover.Remove(ctx, suppressed)

	if len(eligible) == 0 {
		return nil
	}

	sender, err := p.senderFor(ctx)
	if err != nil {
		return err
	}

	dispatchStart := p.now()
	outcomes, err := sender.Send(ctx, eligible)
	if err != nil {
		return err
	}
	p.metrics.RecordDispatchLatency(ctx, p.now().Sub(dispatchStart))

	persisted := p.persistOutcomes(ctx, eligible, outcomes, summary)
	p.remover.Remove(ctx, persisted)
	return nil
}

// filterCooldown partitions updates into eligible (outside the cooldown
// window or never notified), suppressed (inside the window), and deferred
// (state lookup failed). Lookups run concurrently; the partitions preserve
// input order.
func (p *Processor) filterCooldown(ctx context.Context, updates []types.QueuedUpdate) (eligible, suppressed, deferred []types.QueuedUpdate, err error) {
	type verdict int
	const (
		verdictEligible verdict = iota
		verdictSuppressed
		verdictDeferred
	)

	verdicts := make([]verdict, len(updates))
	now := p.now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cooldownConcurrency)
	for i, u := range updates {
		g.Go(func() error {
			state, getErr := p.store.GetState(gctx, u.Update.Recipient())
			if getErr != nil {
				p.logger.Error("cooldown state lookup failed; deferring update to a later run",
					"messageId", u.MessageID,
					"error", getErr.Error(),
				)
				verdicts[i] = verdictDeferred
				return nil
			}
			if state != nil && now.Sub(state.LastNotifiedAt) <= p.cfg.Cooldown {
				verdicts[i] = verdictSuppressed
				return nil
			}
			verdicts[i] = verdictEligible
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, nil, waitErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, nil, nil, ctxErr
	}

	for i, u := range updates {
		switch verdicts[i] {
		case verdictSuppressed:
			p.logger.Info("recipient inside cooldown window; suppressing notification",
				"messageId", u.MessageID,
				"cooldown", p.cfg.Cooldown.String(),
			)
			suppressed = append(suppressed, u)
		case verdictDeferred:
			deferred = append(deferred, u)
		default:
			eligible = append(eligible, u)
		}
	}
	return eligible, suppressed, deferred, nil
}

// persistOutcomes writes one state record per delivery outcome and returns
// the updates whose record write succeeded. A failed write blocks only that
// message's deletion; it redelivers and the idempotent upsert absorbs the
// retry.
func (p *Processor) persistOutcomes(ctx context.Context, updates []types.QueuedUpdate, outcomes []types.DeliveryOutcome, summary *RunSummary) []types.QueuedUpdate {
	byRef := make(map[string]types.DeliveryOutcome, len(outcomes))
	statusCounts := make(map[types.MessageStatus]int)
	for _, o := range outcomes {
		byRef[o.MessageReference] = o
		statusCounts[o.Status]++
	}

	for status, count := range statusCounts {
		p.metrics.RecordOutcome(ctx, status, count)
		if status == types.StatusFailed {
			summary.Failed += count
		} else {
			summary.Dispatched += count
		}
	}

	now := p.now()
	persisted := make([]types.QueuedUpdate, 0, len(updates))

	for _, u := range updates {
		outcome, ok := byRef[u.MessageReference]
		if !ok {
			// No outcome means the update never reached the provider at
			// all; leave it for redelivery.
			p.logger.Warn("no delivery outcome for drained update; leaving on queue",
				"messageId", u.MessageID,
			)
			continue
		}

		rec := types.NotificationState{
			NHSNumber:         u.Update.NHSNumber,
			ODSCode:           u.Update.ODSCode,
			RequestID:         u.Update.RequestID,
			SQSMessageID:      u.MessageID,
			LastStatus:        u.Update.Status,
			MessageStatus:     outcome.Status,
			ProviderMessageID: outcome.ProviderMessageID,
			MessageReference:  u.MessageReference,
			BatchReference:    outcome.BatchReference,
			LastNotifiedAt:    now,
			ExpiresAt:         now.Add(p.cfg.StateTTL),
		}

		if err := p.store.PutState(ctx, rec); err != nil {
			p.logger.Error("failed to persist notification state; message will redeliver",
				"messageId", u.MessageID,
				"error", err.Error(),
			)
			continue
		}
		persisted = append(persisted, u)
	}

	return persisted
}

// recordQueueLag publishes the age of the oldest drained message.
func (p *Processor) recordQueueLag(ctx context.Context, updates []types.QueuedUpdate) {
	var oldest time.Time
	for _, u := range updates {
		if u.SentTimestamp.IsZero() {
			continue
		}
		if oldest.IsZero() || u.SentTimestamp.Before(oldest) {
			oldest = u.SentTimestamp
		}
	}
	if oldest.IsZero() {
		return
	}
	p.metrics.RecordQueueLag(ctx, p.now().Sub(oldest))
}
