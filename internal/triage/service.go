package triage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Service is the business boundary for triage operations: the action,
// batch, rule, and audit surfaces, plus undo. It owns the undo slots: one
// single-item slot holding a verbatim pre-action snapshot, and one
// separate bulk slot holding a whole batch resolution.
type Service struct {
	store     Store
	lifecycle *Lifecycle
	batch     *BatchEngine
	rules     *RuleCache
	logger    log.Logger
	hooks     Hooks

	mu       sync.Mutex
	undoSlot *Item
	bulkSlot *ResolutionSnapshot
}

// NewService wires the triage service.
func NewService(store Store, lifecycle *Lifecycle, batch *BatchEngine, rules *RuleCache, logger log.Logger, hooks Hooks) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:     store,
		lifecycle: lifecycle,
		batch:     batch,
		rules:     rules,
		logger:    logger,
		hooks:     hooks,
	}
}

// ApplyAction runs one lifecycle transition. A successful, non-no-op
// transition replaces the single undo slot with the item's pre-action
// snapshot.
func (s *Service) ApplyAction(ctx context.Context, itemID string, req ActionRequest) (*ActionResult, error) {
	before, ok, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	snapshot := cloneItem(before)

	res, err := s.lifecycle.Apply(ctx, itemID, req)
	if err != nil {
		return nil, err
	}

	if !res.NoOp {
		s.mu.Lock()
		s.undoSlot = snapshot
		s.mu.Unlock()

		s.recordActivity(ctx, "action", map[string]any{
			"item_id": itemID,
			"action":  string(req.Action),
			"status":  string(res.Status),
		})
	}
	return res, nil
}

// Undo restores the last individually-actioned item from its snapshot,
// verbatim, not re-derived. A second undo with no new action is a no-op.
func (s *Service) Undo(ctx context.Context) (*ActionResult, error) {
	s.mu.Lock()
	snapshot := s.undoSlot
	s.undoSlot = nil
	s.mu.Unlock()

	if snapshot == nil {
		return &ActionResult{NoOp: true, Reason: "nothing to undo"}, nil
	}

	if err := s.store.UpdateItem(ctx, snapshot); err != nil {
		// Put the snapshot back so the user can retry.
		s.mu.Lock()
		s.undoSlot = snapshot
		s.mu.Unlock()
		return nil, fmt.Errorf("restore snapshot for %s: %w", snapshot.ID, err)
	}

	s.recordActivity(ctx, "undo", map[string]any{"item_id": snapshot.ID})
	return &ActionResult{ItemID: snapshot.ID, Status: snapshot.Status}, nil
}

// ResolveBatch applies a card's default action to the checked items,
// releases the unchecked ones, and deletes the card, atomically. The
// pre-resolution state lands in the bulk undo slot.
func (s *Service) ResolveBatch(ctx context.Context, cardID string, checkedIDs, uncheckedIDs []string) (*ResolveResult, error) {
	res, snap, err := s.batch.Resolve(ctx, cardID, checkedIDs, uncheckedIDs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.bulkSlot = snap
	s.mu.Unlock()

	s.recordActivity(ctx, "batch_resolved", map[string]any{
		"card_id":  cardID,
		"applied":  string(res.Applied),
		"resolved": len(res.Resolved),
		"released": len(res.Released),
	})
	return res, nil
}

// UndoBulk restores the last batch resolution: the card comes back and
// every item returns to its pre-resolution snapshot, as one atomic store
// operation.
func (s *Service) UndoBulk(ctx context.Context) (*ResolveResult, error) {
	s.mu.Lock()
	snap := s.bulkSlot
	s.bulkSlot = nil
	s.mu.Unlock()

	if snap == nil {
		return &ResolveResult{}, nil
	}

	if err := s.store.RestoreResolution(ctx, snap.Card, snap.Items); err != nil {
		s.mu.Lock()
		s.bulkSlot = snap
		s.mu.Unlock()
		return nil, fmt.Errorf("restore resolution for card %s: %w", snap.Card.ID, err)
	}

	s.recordActivity(ctx, "bulk_undo", map[string]any{
		"card_id": snap.Card.ID,
		"items":   len(snap.Items),
	})

	restored := make([]string, 0, len(snap.Items))
	for _, it := range snap.Items {
		restored = append(restored, it.ID)
	}
	return &ResolveResult{CardID: snap.Card.ID, Released: restored}, nil
}

// ReclassifyItem moves an item between groupings and teaches the
// sender-scoped rule.
func (s *Service) ReclassifyItem(ctx context.Context, itemID, fromBatchType, toBatchType string, sender SenderInfo) (*Item, error) {
	it, err := s.batch.Reclassify(ctx, itemID, fromBatchType, toBatchType, sender)
	if err != nil {
		return nil, err
	}
	s.recordActivity(ctx, "reclassified", map[string]any{
		"item_id": itemID,
		"from":    fromBatchType,
		"to":      toBatchType,
	})
	return it, nil
}

// CreateRule declares an explicit trigger-to-batch rule.
func (s *Service) CreateRule(ctx context.Context, kind TriggerKind, trigger, batchType string, source RuleSource) (*Rule, error) {
	switch kind {
	case TriggerSenderExact, TriggerSenderDomain, TriggerSubjectContain, TriggerPattern:
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", kind)
	}
	if strings.TrimSpace(trigger) == "" {
		return nil, fmt.Errorf("trigger must not be empty")
	}
	if batchType == "" {
		batchType = BatchTypeIndividual
	}

	r := &Rule{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Trigger:   trigger,
		BatchType: batchType,
		Source:    source,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertRule(ctx, r); err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	s.hooks.ruleLearned(source)
	if s.rules != nil {
		s.rules.Invalidate()
	}
	s.recordActivity(ctx, "rule_created", map[string]any{
		"rule_id": r.ID,
		"kind":    string(kind),
		"target":  batchType,
	})
	return r, nil
}

// DeleteRule removes a rule permanently. Deletion is non-retroactive:
// items already grouped under the rule stay where they are.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if s.rules != nil {
		s.rules.Invalidate()
	}
	s.recordActivity(ctx, "rule_deleted", map[string]any{"rule_id": id})
	return nil
}

// ListRules returns rules, optionally filtered to one batch type.
func (s *Service) ListRules(ctx context.Context, batchType string) ([]*Rule, error) {
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	if batchType == "" {
		return rules, nil
	}
	filtered := rules[:0:0]
	for _, r := range rules {
		if r.BatchType == batchType {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id string) (*Item, bool, error) {
	return s.store.GetItem(ctx, id)
}

// Queue returns the individual triage queue.
func (s *Service) Queue(ctx context.Context) ([]*Item, error) {
	return s.store.ListQueue(ctx)
}

// Cards returns the current batch cards.
func (s *Service) Cards(ctx context.Context) ([]*BatchCard, error) {
	return s.store.ListCards(ctx)
}

// RecordActivity appends an audit record.
func (s *Service) RecordActivity(ctx context.Context, eventType string, metadata map[string]any) error {
	return s.store.AppendActivity(ctx, &ActivityEntry{
		ID:        ulid.Make().String(),
		EventType: eventType,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
}

// Activity returns the newest audit records, up to limit.
func (s *Service) Activity(ctx context.Context, limit int) ([]*ActivityEntry, error) {
	return s.store.ListActivity(ctx, limit)
}

// recordActivity is the internal best-effort variant; audit failures never
// fail the user's action.
func (s *Service) recordActivity(ctx context.Context, eventType string, metadata map[string]any) {
	if err := s.RecordActivity(ctx, eventType, metadata); err != nil {
		s.logger.Warn(ctx, "failed to append activity", "event_type", eventType, "error", err)
	}
}
