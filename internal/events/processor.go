package events

import (
	"context"
	"time"

	"telephony-events/pkg/logger"
)

// Processor is the polling loop that drains the event store.
//
// Multiple process instances may run this loop against the same table; the
// store's claim semantics keep them disjoint, so no leader election or
// distributed lock is needed. Within one provider call the final entity
// state converges via upserts plus the transition guard; strict cross-
// instance ordering is deliberately not guaranteed.
type Processor struct {
	store    Store
	registry *Registry

	interval  time.Duration
	batchSize int
}

func NewProcessor(store Store, registry *Registry, interval time.Duration, batchSize int) *Processor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Processor{
		store:     store,
		registry:  registry,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is canceled. Cancellation is honored between cycles;
// an in-flight cycle always finishes its batch.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.From(ctx)
	log.Info("event processor started",
		"interval", p.interval.String(),
		"batch_size", p.batchSize,
		"event_types", p.registry.Types(),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("event processor stopped")
			return ctx.Err()
		case <-ticker.C:
			// The cycle runs on a detached context so a shutdown arriving
			// mid-batch cannot cancel its claim, handler, or mark
			// statements; cancellation is observed at the next tick.
			cycleCtx := logger.With(context.WithoutCancel(ctx), log)
			if _, err := p.RunCycle(cycleCtx); err != nil {
				// Transient by assumption; the next tick retries.
				log.Error("processing cycle failed", "err", err)
			}
		}
	}
}

// RunCycle claims one batch, dispatches each event, and marks successes
// processed. Returns the number of events marked.
//
// Failure semantics:
//   - unknown event type: warn, mark processed (unknown-but-harmless types
//     must not reprocess forever)
//   - event with no resolved tenant: error-log, mark processed (nothing to
//     scope a write to)
//   - handler error: abort the remainder of the batch; already-marked rows
//     stay marked, the rest unlock at commit and retry next cycle
func (p *Processor) RunCycle(ctx context.Context) (int, error) {
	log := logger.From(ctx)

	batch, err := p.store.ClaimBatch(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := batch.Close(ctx); cerr != nil {
			log.Error("batch close failed", "err", cerr)
		}
	}()

	processed := 0
	for _, evt := range batch.Events() {
		if err := p.dispatch(ctx, evt); err != nil {
			log.Error("handler failed, aborting batch",
				"event_id", evt.ID,
				"event_type", evt.EventType,
				"err", err,
			)
			break
		}
		if err := batch.MarkProcessed(ctx, evt.ID); err != nil {
			log.Error("mark processed failed, aborting batch", "event_id", evt.ID, "err", err)
			break
		}
		processed++
	}
	return processed, nil
}

func (p *Processor) dispatch(ctx context.Context, evt RawEvent) error {
	log := logger.From(ctx)

	if evt.TenantID == "" {
		log.Error("event has no resolved tenant, skipping",
			"event_id", evt.ID,
			"event_type", evt.EventType,
		)
		return nil
	}

	h, ok := p.registry.Lookup(evt.EventType)
	if !ok {
		log.Warn("no handler for event type",
			"event_type", evt.EventType,
			"event_id", evt.ID,
		)
		return nil
	}
	return h.Handle(ctx, evt)
}
