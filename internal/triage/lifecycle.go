package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

const (
	// actionNeededSnooze is the fixed snooze attached to action-needed.
	actionNeededSnooze = 72 * time.Hour

	// actionNeededLabel is applied on the source side (email) when an item
	// is flagged action-needed.
	actionNeededLabel = "action-needed"
)

// TaskCanceller cancels suggested tasks derived from an item. Cancellation
// is best-effort: a failure is logged and never blocks or reverses the
// lifecycle transition.
type TaskCanceller interface {
	CancelTasksFor(ctx context.Context, itemID string) error
}

type actionHandler func(ctx context.Context, it *Item, req ActionRequest) (*ActionResult, error)

// Lifecycle is the item state machine. Every transition is idempotent
// under retry: re-applying an action to an item already in the target
// state is a no-op. Concurrent calls for the same item resolve
// last-write-wins on status, which idempotency makes safe.
type Lifecycle struct {
	store    Store
	batch    *BatchEngine
	tasks    TaskCanceller
	labelers map[connector.Kind]connector.Labeler
	logger   log.Logger
	hooks    Hooks
	handlers map[Action]actionHandler
}

// NewLifecycle creates the state machine. tasks may be nil; labelers maps
// connector kinds to their label side-effect implementation (the email
// connector, for action-needed).
func NewLifecycle(store Store, batch *BatchEngine, tasks TaskCanceller, labelers map[connector.Kind]connector.Labeler, logger log.Logger, hooks Hooks) *Lifecycle {
	if logger == nil {
		logger = log.Nop()
	}
	l := &Lifecycle{
		store:    store,
		batch:    batch,
		tasks:    tasks,
		labelers: labelers,
		logger:   logger,
		hooks:    hooks,
	}
	// Exhaustive over the closed Action set; unknown names are rejected in
	// Apply before dispatch.
	l.handlers = map[Action]actionHandler{
		ActionArchive:      l.leaveQueue,
		ActionSpam:         l.leaveQueue,
		ActionDone:         l.markDone,
		ActionSnooze:       l.snooze,
		ActionRestore:      l.restore,
		ActionActionNeeded: l.actionNeeded,
		ActionClassify:     l.classify,
	}
	return l
}

// Apply runs one lifecycle transition and returns the authoritative
// result. Rejected transitions come back as a no-op with the item
// unchanged, not as an error; only unknown actions and storage failures
// error out.
func (l *Lifecycle) Apply(ctx context.Context, itemID string, req ActionRequest) (*ActionResult, error) {
	handler, ok := l.handlers[req.Action]
	if !ok {
		l.hooks.action(req.Action, "unknown")
		return nil, fmt.Errorf("action %q: %w", req.Action, ErrUnknownAction)
	}

	it, found, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		l.hooks.action(req.Action, "error")
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	if !found {
		l.hooks.action(req.Action, "not_found")
		return nil, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}

	if res := l.reject(it, req); res != nil {
		l.hooks.action(req.Action, "rejected")
		return res, nil
	}
	if it.Status == req.Action.targetStatus() && req.Action != ActionRestore && req.Action != ActionClassify {
		l.hooks.action(req.Action, "noop")
		return &ActionResult{ItemID: it.ID, Status: it.Status, NoOp: true}, nil
	}

	res, err := handler(ctx, it, req)
	if err != nil {
		l.hooks.action(req.Action, "error")
		return nil, err
	}
	if res.NoOp {
		l.hooks.action(req.Action, "noop")
	} else {
		l.hooks.action(req.Action, "applied")
	}
	return res, nil
}

// reject returns a no-op result when the transition is not legal from the
// item's current state. State is left untouched.
func (l *Lifecycle) reject(it *Item, req ActionRequest) *ActionResult {
	noop := func(reason string) *ActionResult {
		return &ActionResult{ItemID: it.ID, Status: it.Status, NoOp: true, Reason: reason}
	}

	switch it.Status {
	case StatusActioned:
		// Terminal. Nothing, including restore, applies.
		if it.Status != req.Action.targetStatus() {
			return noop("item is actioned")
		}
	case StatusArchived, StatusSpam:
		// Terminal unless explicitly restored.
		if req.Action != ActionRestore && it.Status != req.Action.targetStatus() {
			return noop(fmt.Sprintf("item is %s; restore it first", it.Status))
		}
	}

	if req.Action == ActionActionNeeded && it.Connector != connector.KindEmail {
		return noop("action-needed applies only to email items")
	}
	if req.Action == ActionSnooze && req.SnoozeUntil == nil {
		return noop("snooze requires an until time")
	}
	if req.Action == ActionClassify && req.BatchType == "" {
		return noop("classify requires a batch type")
	}
	return nil
}

// leaveQueue handles archive and spam.
func (l *Lifecycle) leaveQueue(ctx context.Context, it *Item, req ActionRequest) (*ActionResult, error) {
	it.Status = req.Action.targetStatus()
	it.SnoozeUntil = nil
	it.UpdatedAt = time.Now()
	if err := l.store.UpdateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %s: %w", it.ID, err)
	}

	res := &ActionResult{ItemID: it.ID, Status: it.Status}
	if l.tasks != nil {
		if err := l.tasks.CancelTasksFor(ctx, it.ID); err != nil {
			l.logger.Warn(ctx, "suggested task cancellation failed",
				"item_id", it.ID, "error", err)
			res.SideEffects = append(res.SideEffects, "task_cancellation_failed")
		} else {
			res.SideEffects = append(res.SideEffects, "tasks_cancelled")
		}
	}
	return res, nil
}

func (l *Lifecycle) markDone(ctx context.Context, it *Item, _ ActionRequest) (*ActionResult, error) {
	it.Status = StatusActioned
	it.SnoozeUntil = nil
	it.UpdatedAt = time.Now()
	if err := l.store.UpdateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %s: %w", it.ID, err)
	}
	return &ActionResult{ItemID: it.ID, Status: it.Status}, nil
}

func (l *Lifecycle) snooze(ctx context.Context, it *Item, req ActionRequest) (*ActionResult, error) {
	it.Status = StatusSnoozed
	it.SnoozeUntil = req.SnoozeUntil
	it.UpdatedAt = time.Now()
	if err := l.store.UpdateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %s: %w", it.ID, err)
	}
	// Waking the item when SnoozeUntil elapses is the scheduler's job, not
	// this core's.
	return &ActionResult{ItemID: it.ID, Status: it.Status}, nil
}

// restore returns an item to the front of the individual queue. When the
// prior action was action-needed the timestamp is stripped from
// enrichment.
func (l *Lifecycle) restore(ctx context.Context, it *Item, _ ActionRequest) (*ActionResult, error) {
	if it.Status == StatusNew {
		return &ActionResult{ItemID: it.ID, Status: it.Status, NoOp: true}, nil
	}

	it.Status = StatusNew
	it.SnoozeUntil = nil
	it.Enrichment.ActionNeededAt = nil
	// UpdatedAt ordering puts the restored item at the front of its
	// priority band.
	it.UpdatedAt = time.Now()
	if err := l.store.UpdateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %s: %w", it.ID, err)
	}
	return &ActionResult{ItemID: it.ID, Status: it.Status}, nil
}

// actionNeeded flags an email for follow-up: fixed-duration snooze plus a
// best-effort source-side label.
func (l *Lifecycle) actionNeeded(ctx context.Context, it *Item, _ ActionRequest) (*ActionResult, error) {
	now := time.Now()
	until := now.Add(actionNeededSnooze)
	it.Status = StatusActionNeeded
	it.Enrichment.ActionNeededAt = &now
	it.SnoozeUntil = &until
	it.UpdatedAt = now
	if err := l.store.UpdateItem(ctx, it); err != nil {
		return nil, fmt.Errorf("update item %s: %w", it.ID, err)
	}

	res := &ActionResult{ItemID: it.ID, Status: it.Status}
	if labeler, ok := l.labelers[it.Connector]; ok {
		if err := labeler.ApplyLabel(ctx, it.ExternalID, actionNeededLabel); err != nil {
			l.logger.Warn(ctx, "source label failed",
				"item_id", it.ID, "label", actionNeededLabel, "error", err)
			res.SideEffects = append(res.SideEffects, "label_failed")
		} else {
			res.SideEffects = append(res.SideEffects, "label_applied")
		}
	}
	return res, nil
}

// classify moves an item into (or creates) a batch card and performs the
// reclassify-to-rule side effect.
func (l *Lifecycle) classify(ctx context.Context, it *Item, req ActionRequest) (*ActionResult, error) {
	if it.BatchType == req.BatchType {
		return &ActionResult{ItemID: it.ID, Status: it.Status, NoOp: true}, nil
	}
	updated, err := l.batch.Reclassify(ctx, it.ID, it.BatchType, req.BatchType,
		SenderInfo{Email: it.Sender, Name: it.SenderName})
	if err != nil {
		return nil, err
	}
	return &ActionResult{
		ItemID:      updated.ID,
		Status:      updated.Status,
		SideEffects: []string{"rule_learned"},
	}, nil
}
