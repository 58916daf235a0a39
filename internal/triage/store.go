package triage

import (
	"context"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

// Store is the persistence interface for the triage core. Implementations:
// memstore (dev/testing) and pgstore (PostgreSQL).
//
// ResolveCard and RestoreResolution are deliberately coarse: batch
// resolution and bulk undo must be atomic from the caller's view, so the
// store commits the item updates and the card mutation as one unit.
type Store interface {
	// Items.
	GetItem(ctx context.Context, id string) (*Item, bool, error)
	ItemExists(ctx context.Context, kind connector.Kind, externalID string) (bool, error)
	// InsertItem returns ErrDuplicateItem on a (connector, external_id)
	// conflict.
	InsertItem(ctx context.Context, it *Item) error
	UpdateItem(ctx context.Context, it *Item) error
	// ListQueue returns individual-queue items (status new, not on a card)
	// ordered by priority rank, then most recently updated first.
	ListQueue(ctx context.Context) ([]*Item, error)

	// Batch cards.
	GetCard(ctx context.Context, id string) (*BatchCard, bool, error)
	GetCardByType(ctx context.Context, batchType string) (*BatchCard, bool, error)
	PutCard(ctx context.Context, card *BatchCard) error
	DeleteCard(ctx context.Context, id string) error
	ListCards(ctx context.Context) ([]*BatchCard, error)
	// ResolveCard atomically applies the given item updates and deletes the
	// card. No intermediate state is observable where an item is both
	// carded and queued.
	ResolveCard(ctx context.Context, cardID string, items []*Item) error
	// RestoreResolution atomically re-creates a card and restores the given
	// item snapshots (bulk undo).
	RestoreResolution(ctx context.Context, card *BatchCard, items []*Item) error

	// Rules.
	InsertRule(ctx context.Context, r *Rule) error
	IncrementRuleMatch(ctx context.Context, id string) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context) ([]*Rule, error)

	// Activity log (append-only).
	AppendActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, limit int) ([]*ActivityEntry, error)
}
