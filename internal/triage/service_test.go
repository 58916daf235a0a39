package triage

import (
	"context"
	"testing"
)

func newTestService(store *fakeStore) *Service {
	engine := NewBatchEngine(store, nil, nil, Hooks{})
	lc := NewLifecycle(store, engine, nil, nil, nil, Hooks{})
	return NewService(store, lc, engine, nil, nil, Hooks{})
}

func TestService_UndoRestoresSnapshot(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	it := seedItem(t, store, "i-1", "")
	it.Enrichment.Summary = "before the action"
	if err := store.UpdateItem(ctx, it); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	if _, err := svc.ApplyAction(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	got, _, _ := store.GetItem(ctx, "i-1")
	if got.Status != StatusArchived {
		t.Fatalf("status after archive = %q, want %q", got.Status, StatusArchived)
	}

	res, err := svc.Undo(ctx)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if res.NoOp {
		t.Fatal("expected undo to apply")
	}
	got, _, _ = store.GetItem(ctx, "i-1")
	if got.Status != StatusNew {
		t.Errorf("status after undo = %q, want %q", got.Status, StatusNew)
	}
	if got.Enrichment.Summary != "before the action" {
		t.Errorf("summary after undo = %q, want snapshot value", got.Enrichment.Summary)
	}
}

func TestService_SecondUndoIsNoOp(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	seedItem(t, store, "i-1", "")

	if _, err := svc.ApplyAction(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if _, err := svc.Undo(ctx); err != nil {
		t.Fatalf("first undo: %v", err)
	}

	res, err := svc.Undo(ctx)
	if err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if !res.NoOp {
		t.Error("expected second undo to be a no-op")
	}
	if res.Reason != "nothing to undo" {
		t.Errorf("reason = %q, want %q", res.Reason, "nothing to undo")
	}
}

func TestService_NoOpActionKeepsUndoSlot(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	seedItem(t, store, "i-1", "")

	if _, err := svc.ApplyAction(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	// Idempotent retry is a no-op and must not clobber the slot with the
	// already-archived state.
	res, err := svc.ApplyAction(ctx, "i-1", ActionRequest{Action: ActionArchive})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.NoOp {
		t.Fatal("expected retry to be a no-op")
	}

	if _, err := svc.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	got, _, _ := store.GetItem(ctx, "i-1")
	if got.Status != StatusNew {
		t.Errorf("status after undo = %q, want %q", got.Status, StatusNew)
	}
}

func TestService_UndoFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	seedItem(t, store, "i-1", "")

	if _, err := svc.ApplyAction(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	store.mu.Lock()
	store.failUpdate = true
	store.mu.Unlock()
	if _, err := svc.Undo(ctx); err == nil {
		t.Fatal("expected undo to fail while the store is down")
	}

	store.mu.Lock()
	store.failUpdate = false
	store.mu.Unlock()
	res, err := svc.Undo(ctx)
	if err != nil {
		t.Fatalf("retried undo: %v", err)
	}
	if res.NoOp {
		t.Error("expected the retained snapshot to restore on retry")
	}
	got, _, _ := store.GetItem(ctx, "i-1")
	if got.Status != StatusNew {
		t.Errorf("status = %q, want %q", got.Status, StatusNew)
	}
}

func TestService_ResolveBatchAndUndoBulk(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	engine := svc.batch
	ctx := context.Background()

	for _, id := range []string{"i-1", "i-2", "i-3"} {
		it := seedItem(t, store, id, "")
		if _, err := engine.Assign(ctx, it, "newsletters"); err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}
	}
	card, _, _ := store.GetCardByType(ctx, "newsletters")

	res, err := svc.ResolveBatch(ctx, card.ID, nil, []string{"i-2"})
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if len(res.Resolved) != 2 || len(res.Released) != 1 {
		t.Fatalf("resolved %d released %d, want 2/1", len(res.Resolved), len(res.Released))
	}
	if _, ok, _ := store.GetCard(ctx, card.ID); ok {
		t.Fatal("card should be deleted after resolution")
	}

	undone, err := svc.UndoBulk(ctx)
	if err != nil {
		t.Fatalf("UndoBulk: %v", err)
	}
	if undone.CardID != card.ID || len(undone.Released) != 3 {
		t.Errorf("bulk undo = %+v, want card %s with 3 items", undone, card.ID)
	}

	restored, ok, _ := store.GetCard(ctx, card.ID)
	if !ok {
		t.Fatal("card should be restored by bulk undo")
	}
	if len(restored.ItemIDs) != 3 {
		t.Errorf("restored card has %d items, want 3", len(restored.ItemIDs))
	}
	for _, id := range []string{"i-1", "i-2", "i-3"} {
		it, _, _ := store.GetItem(ctx, id)
		if it.Status != StatusNew || it.BatchType != "newsletters" {
			t.Errorf("item %s = %s/%q, want new/newsletters", id, it.Status, it.BatchType)
		}
	}
}

func TestService_UndoBulkEmptySlot(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	res, err := svc.UndoBulk(context.Background())
	if err != nil {
		t.Fatalf("UndoBulk: %v", err)
	}
	if res.CardID != "" || len(res.Released) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestService_CreateRuleValidation(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, TriggerKind("regex"), "x", "alerts", RuleSourceUserChat); err == nil {
		t.Error("expected error for unknown trigger kind")
	}
	if _, err := svc.CreateRule(ctx, TriggerSenderExact, "   ", "alerts", RuleSourceUserChat); err == nil {
		t.Error("expected error for blank trigger")
	}

	r, err := svc.CreateRule(ctx, TriggerSenderExact, "bot@ci.example.com", "", RuleSourceUserChat)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r.BatchType != BatchTypeIndividual {
		t.Errorf("batch type = %q, want %q default", r.BatchType, BatchTypeIndividual)
	}
}

func TestService_ListRulesFilter(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, TriggerSenderDomain, "ci.example.com", "alerts", RuleSourceUserChat); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if _, err := svc.CreateRule(ctx, TriggerSubjectContain, "weekly digest", "newsletters", RuleSourceUserChat); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	all, err := svc.ListRules(ctx, "")
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	alerts, err := svc.ListRules(ctx, "alerts")
	if err != nil {
		t.Fatalf("ListRules filtered: %v", err)
	}
	if len(alerts) != 1 || alerts[0].BatchType != "alerts" {
		t.Errorf("filtered = %+v, want the single alerts rule", alerts)
	}
}

func TestService_DeleteRuleMissing(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	if err := svc.DeleteRule(context.Background(), "missing"); err == nil {
		t.Error("expected error deleting an unknown rule")
	}
}

func TestService_ActionsRecordActivity(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	seedItem(t, store, "i-1", "")

	if _, err := svc.ApplyAction(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("ApplyAction: %v", err)
	}
	if _, err := svc.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}

	entries, err := svc.Activity(ctx, 10)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].EventType != "undo" || entries[1].EventType != "action" {
		t.Errorf("events = [%s %s], want [undo action]", entries[0].EventType, entries[1].EventType)
	}
	if entries[1].Metadata["action"] != "archive" {
		t.Errorf("action metadata = %v, want archive", entries[1].Metadata["action"])
	}
}
