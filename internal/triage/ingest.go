package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

const (
	// classifyBatchSize bounds concurrent oracle calls within one sync to
	// respect third-party rate limits.
	classifyBatchSize = 5

	// classifyBatchDelay is the pause between classification batches.
	classifyBatchDelay = 250 * time.Millisecond

	// maxLoggedErrors caps per-sync error log lines; the rest are only
	// counted.
	maxLoggedErrors = 5
)

// Gate is the ingestion gate: it normalizes raw events, deduplicates on
// (connector, external_id), classifies, and inserts. One malformed item
// never aborts the remaining batch.
type Gate struct {
	store      Store
	classifier *Classifier
	batch      *BatchEngine
	logger     log.Logger
	hooks      Hooks
	batchDelay time.Duration
}

// NewGate creates an ingestion gate.
func NewGate(store Store, classifier *Classifier, batch *BatchEngine, logger log.Logger, hooks Hooks) *Gate {
	if logger == nil {
		logger = log.Nop()
	}
	return &Gate{
		store:      store,
		classifier: classifier,
		batch:      batch,
		logger:     logger,
		hooks:      hooks,
		batchDelay: classifyBatchDelay,
	}
}

// IngestBatch runs one connector's raw events through the gate. Events are
// classified in batches of classifyBatchSize with a short delay between
// batches; every failure is caught locally and aggregated into the
// summary, never propagated.
func (g *Gate) IngestBatch(ctx context.Context, conn connector.Connector, events []connector.RawEvent) *SyncSummary {
	start := time.Now()
	sum := &SyncSummary{Connector: conn.Name()}
	L := g.logger.With("connector", conn.Name())

	for i := 0; i < len(events); i += classifyBatchSize {
		end := i + classifyBatchSize
		if end > len(events) {
			end = len(events)
		}

		var eg errgroup.Group
		eg.SetLimit(classifyBatchSize)
		results := make([]ingestOutcome, end-i)

		for j, ev := range events[i:end] {
			eg.Go(func() error {
				results[j] = g.ingestOne(ctx, conn, ev)
				return nil
			})
		}
		_ = eg.Wait()

		for _, out := range results {
			switch {
			case out.err != nil:
				sum.Errors++
				g.hooks.ingest(conn.Name(), "error")
				if sum.Errors <= maxLoggedErrors {
					L.Error(ctx, out.err, "item ingestion failed", "external_id", out.externalID)
				}
				sum.ErrorMessages = append(sum.ErrorMessages, out.err.Error())
			case out.skipped:
				sum.Skipped++
				g.hooks.ingest(conn.Name(), "skipped")
			default:
				sum.Synced++
				g.hooks.ingest(conn.Name(), "synced")
			}
		}

		if end < len(events) && g.batchDelay > 0 {
			select {
			case <-time.After(g.batchDelay):
			case <-ctx.Done():
				sum.Duration = time.Since(start).Seconds()
				return sum
			}
		}
	}

	sum.Duration = time.Since(start).Seconds()
	return sum
}

type ingestOutcome struct {
	externalID string
	skipped    bool
	err        error
}

// ingestOne takes one raw event through normalize, dedup, classify, insert
// and batch grouping.
func (g *Gate) ingestOne(ctx context.Context, conn connector.Connector, ev connector.RawEvent) ingestOutcome {
	out := ingestOutcome{externalID: ev.ExternalID}

	draft, err := conn.Normalize(ev)
	if err != nil {
		out.err = &MalformedItemError{Connector: conn.Name(), ExternalID: ev.ExternalID, Err: err}
		return out
	}

	exists, err := g.store.ItemExists(ctx, draft.Connector, draft.ExternalID)
	if err != nil {
		out.err = fmt.Errorf("existence check %s/%s: %w", draft.Connector, draft.ExternalID, err)
		return out
	}
	if exists {
		out.skipped = true
		return out
	}

	it := itemFromDraft(draft)
	cl := g.classifier.Classify(ctx, it, ClassifyOptions{Direct: draft.DirectMention})
	applyClassification(it, cl)

	if err := g.store.InsertItem(ctx, it); err != nil {
		// A concurrent sync won the insert race; the unique constraint
		// makes this a benign duplicate.
		if errors.Is(err, ErrDuplicateItem) {
			out.skipped = true
			return out
		}
		out.err = fmt.Errorf("insert %s/%s: %w", draft.Connector, draft.ExternalID, err)
		return out
	}

	if it.BatchType != "" && g.batch != nil {
		if _, err := g.batch.Assign(ctx, it, it.BatchType); err != nil {
			// The item is ingested; grouping can catch up on a later run.
			g.logger.Warn(ctx, "failed to assign item to batch card",
				"item_id", it.ID, "batch_type", it.BatchType, "error", err)
		}
	}

	return out
}

// ExtractPending retries classification for queue items that fell through
// every tier on ingest (no summary, no tier). It returns how many items
// were enriched and how many retries failed.
func (g *Gate) ExtractPending(ctx context.Context) (enriched, failed int, err error) {
	items, err := g.store.ListQueue(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list queue: %w", err)
	}

	for _, it := range items {
		if it.TierUsed != TierNone {
			continue
		}
		cl := g.classifier.Classify(ctx, it, ClassifyOptions{})
		if cl == nil || cl.Tier == TierNone {
			failed++
			continue
		}
		applyClassification(it, cl)
		it.UpdatedAt = time.Now()
		if err := g.store.UpdateItem(ctx, it); err != nil {
			failed++
			g.logger.Warn(ctx, "failed to persist retried classification",
				"item_id", it.ID, "error", err)
			continue
		}
		if it.BatchType != "" && g.batch != nil {
			if _, err := g.batch.Assign(ctx, it, it.BatchType); err != nil {
				g.logger.Warn(ctx, "failed to assign item to batch card",
					"item_id", it.ID, "batch_type", it.BatchType, "error", err)
			}
		}
		enriched++
	}
	return enriched, failed, nil
}

func itemFromDraft(d *connector.Draft) *Item {
	now := time.Now()
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	return &Item{
		ID:         ulid.Make().String(),
		Connector:  d.Connector,
		ExternalID: d.ExternalID,
		Sender:     d.Sender,
		SenderName: d.SenderName,
		Subject:    d.Subject,
		Content:    d.Content,
		Preview:    d.Preview,
		Status:     StatusNew,
		Priority:   PriorityNormal,
		TierUsed:   TierNone,
		RawPayload: d.RawPayload,
		ReceivedAt: receivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func applyClassification(it *Item, cl *Classification) {
	if cl == nil {
		return
	}
	it.Priority = cl.Priority
	it.Tags = cl.Tags
	it.BatchType = cl.BatchType
	it.TierUsed = cl.Tier
	it.Enrichment.Summary = cl.Summary
	it.Enrichment.LinkedEntities = cl.Entities
}
