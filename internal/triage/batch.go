package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// BatchEngine groups same-batch-type items into bulk-actionable cards and
// owns the reclassify-to-rule learning loop.
type BatchEngine struct {
	store  Store
	rules  *RuleCache
	logger log.Logger
	hooks  Hooks
}

// NewBatchEngine creates a batch grouping engine. rules may be nil when no
// learning loop is wanted (tests).
func NewBatchEngine(store Store, rules *RuleCache, logger log.Logger, hooks Hooks) *BatchEngine {
	if logger == nil {
		logger = log.Nop()
	}
	return &BatchEngine{store: store, rules: rules, logger: logger, hooks: hooks}
}

// SenderInfo identifies the sender a learned rule is scoped to.
type SenderInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// ResolveResult reports a batch resolution. Resolved items got the card's
// default action; Released items went back to the individual queue.
type ResolveResult struct {
	CardID   string   `json:"card_id"`
	Applied  Action   `json:"applied"`
	Resolved []string `json:"resolved"`
	Released []string `json:"released"`
}

// ResolutionSnapshot captures the pre-resolution state of a card and its
// items, restored verbatim by bulk undo.
type ResolutionSnapshot struct {
	Card  *BatchCard
	Items []*Item
}

// Assign places an item on the card for batchType, creating the card when
// none exists. New cards default to archive as their bulk action.
func (b *BatchEngine) Assign(ctx context.Context, it *Item, batchType string) (*BatchCard, error) {
	if batchType == "" || batchType == BatchTypeIndividual {
		return nil, fmt.Errorf("assign: batch type %q is not groupable", batchType)
	}

	card, ok, err := b.store.GetCardByType(ctx, batchType)
	if err != nil {
		return nil, fmt.Errorf("load card for %q: %w", batchType, err)
	}

	now := time.Now()
	if !ok {
		card = &BatchCard{
			ID:            ulid.Make().String(),
			BatchType:     batchType,
			Title:         batchType,
			DefaultAction: ActionArchive,
			CreatedAt:     now,
		}
	}

	if !containsID(card.ItemIDs, it.ID) {
		card.ItemIDs = append(card.ItemIDs, it.ID)
	}
	card.UpdatedAt = now
	if err := b.store.PutCard(ctx, card); err != nil {
		return nil, fmt.Errorf("put card %s: %w", card.ID, err)
	}

	it.BatchType = batchType
	it.UpdatedAt = now
	if err := b.store.UpdateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %s: %w", it.ID, err)
	}
	return card, nil
}

// Resolve applies the card's default action to the checked items, releases
// the unchecked ones back to the individual queue, and deletes the card.
// Card items named in neither list count as checked, matching the
// everything-checked-by-default presentation. The store commits the whole
// resolution atomically.
func (b *BatchEngine) Resolve(ctx context.Context, cardID string, checkedIDs, uncheckedIDs []string) (*ResolveResult, *ResolutionSnapshot, error) {
	card, ok, err := b.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, nil, fmt.Errorf("load card %s: %w", cardID, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}

	unchecked := make(map[string]bool, len(uncheckedIDs))
	for _, id := range uncheckedIDs {
		unchecked[id] = true
	}
	listed := make(map[string]bool, len(checkedIDs)+len(uncheckedIDs))
	for _, id := range checkedIDs {
		listed[id] = true
	}
	for _, id := range uncheckedIDs {
		listed[id] = true
	}

	snap := &ResolutionSnapshot{Card: cloneCard(card)}
	result := &ResolveResult{CardID: cardID, Applied: card.DefaultAction}
	target := card.DefaultAction.targetStatus()
	now := time.Now()

	var updated []*Item
	for _, id := range card.ItemIDs {
		it, found, err := b.store.GetItem(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("load item %s: %w", id, err)
		}
		if !found {
			b.logger.Warn(ctx, "card references missing item", "card_id", cardID, "item_id", id)
			continue
		}
		snap.Items = append(snap.Items, cloneItem(it))

		it.BatchType = ""
		it.UpdatedAt = now
		if unchecked[id] {
			it.Status = StatusNew
			result.Released = append(result.Released, id)
		} else {
			it.Status = target
			result.Resolved = append(result.Resolved, id)
		}
		updated = append(updated, it)
	}

	for _, id := range checkedIDs {
		if !containsID(card.ItemIDs, id) && listed[id] {
			b.logger.Warn(ctx, "resolve listed an item not on the card", "card_id", cardID, "item_id", id)
		}
	}

	if err := b.store.ResolveCard(ctx, cardID, updated); err != nil {
		return nil, nil, fmt.Errorf("resolve card %s: %w", cardID, err)
	}

	b.hooks.batchResolved(len(result.Resolved), len(result.Released))
	return result, snap, nil
}

// Reclassify moves an item between batch groupings and teaches a
// sender-scoped rule targeting the destination, so future items from this
// sender classify by rule with no oracle call.
func (b *BatchEngine) Reclassify(ctx context.Context, itemID, fromBatchType, toBatchType string, sender SenderInfo) (*Item, error) {
	it, ok, err := b.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}

	if fromBatchType != "" && it.BatchType != fromBatchType {
		b.logger.Warn(ctx, "reclassify source mismatch, using item's actual grouping",
			"item_id", itemID, "claimed", fromBatchType, "actual", it.BatchType)
	}

	if it.BatchType != "" {
		if err := b.removeFromCard(ctx, it); err != nil {
			return nil, err
		}
	}

	if toBatchType == "" || toBatchType == BatchTypeIndividual {
		it.BatchType = ""
		it.Status = StatusNew
		it.UpdatedAt = time.Now()
		if err := b.store.UpdateItem(ctx, it); err != nil {
			return nil, fmt.Errorf("update item %s: %w", itemID, err)
		}
	} else {
		if _, err := b.Assign(ctx, it, toBatchType); err != nil {
			return nil, err
		}
	}

	if sender.Email == "" {
		sender.Email = it.Sender
	}
	if err := b.learnSenderRule(ctx, sender, toBatchType); err != nil {
		// The move stands; the rule can be re-taught on the next correction.
		b.logger.Error(ctx, err, "failed to learn rule from reclassify",
			"item_id", itemID, "sender", sender.Email, "to", toBatchType)
	}

	return it, nil
}

// removeFromCard prunes the item from its source card, deleting the card
// once its item list empties.
func (b *BatchEngine) removeFromCard(ctx context.Context, it *Item) error {
	card, ok, err := b.store.GetCardByType(ctx, it.BatchType)
	if err != nil {
		return fmt.Errorf("load card for %q: %w", it.BatchType, err)
	}
	if !ok {
		return nil
	}

	kept := card.ItemIDs[:0]
	for _, id := range card.ItemIDs {
		if id != it.ID {
			kept = append(kept, id)
		}
	}
	card.ItemIDs = kept
	card.UpdatedAt = time.Now()

	if len(card.ItemIDs) == 0 {
		if err := b.store.DeleteCard(ctx, card.ID); err != nil {
			return fmt.Errorf("delete empty card %s: %w", card.ID, err)
		}
		return nil
	}
	if err := b.store.PutCard(ctx, card); err != nil {
		return fmt.Errorf("put card %s: %w", card.ID, err)
	}
	return nil
}

// learnSenderRule creates or strengthens a sender-exact rule targeting
// batchType. An existing matching rule only gains match count; rules are
// append-only.
func (b *BatchEngine) learnSenderRule(ctx context.Context, sender SenderInfo, batchType string) error {
	if sender.Email == "" {
		return fmt.Errorf("learn rule: sender email is empty")
	}
	target := batchType
	if target == "" {
		target = BatchTypeIndividual
	}

	rules, err := b.store.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	for _, r := range rules {
		if r.Kind == TriggerSenderExact && r.Trigger == sender.Email && r.BatchType == target {
			if err := b.store.IncrementRuleMatch(ctx, r.ID); err != nil {
				return fmt.Errorf("strengthen rule %s: %w", r.ID, err)
			}
			if b.rules != nil {
				b.rules.Invalidate()
			}
			return nil
		}
	}

	rule := &Rule{
		ID:        ulid.Make().String(),
		Kind:      TriggerSenderExact,
		Trigger:   sender.Email,
		BatchType: target,
		Source:    RuleSourceReclassifyUI,
		CreatedAt: time.Now(),
	}
	if err := b.store.InsertRule(ctx, rule); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	b.hooks.ruleLearned(rule.Source)
	if b.rules != nil {
		b.rules.Invalidate()
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func cloneItem(it *Item) *Item {
	cp := *it
	cp.Tags = append([]string(nil), it.Tags...)
	cp.Enrichment.LinkedEntities = append([]string(nil), it.Enrichment.LinkedEntities...)
	if it.SnoozeUntil != nil {
		t := *it.SnoozeUntil
		cp.SnoozeUntil = &t
	}
	if it.Enrichment.ActionNeededAt != nil {
		t := *it.Enrichment.ActionNeededAt
		cp.Enrichment.ActionNeededAt = &t
	}
	return &cp
}

func cloneCard(c *BatchCard) *BatchCard {
	cp := *c
	cp.ItemIDs = append([]string(nil), c.ItemIDs...)
	return &cp
}
