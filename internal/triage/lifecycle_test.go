package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

type fakeLabeler struct {
	applied map[string]string
	err     error
}

func (f *fakeLabeler) ApplyLabel(_ context.Context, externalID, label string) error {
	if f.err != nil {
		return f.err
	}
	if f.applied == nil {
		f.applied = make(map[string]string)
	}
	f.applied[externalID] = label
	return nil
}

type fakeCanceller struct {
	cancelled []string
	err       error
}

func (f *fakeCanceller) CancelTasksFor(_ context.Context, itemID string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, itemID)
	return nil
}

func newTestLifecycle(store Store) *Lifecycle {
	return NewLifecycle(store, NewBatchEngine(store, nil, nil, Hooks{}), nil, nil, nil, Hooks{})
}

func TestLifecycle_Archive(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")

	res, err := lc.Apply(context.Background(), "i-1", ActionRequest{Action: ActionArchive})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.NoOp {
		t.Fatal("expected transition, got no-op")
	}
	if res.Status != StatusArchived {
		t.Errorf("status = %q, want %q", res.Status, StatusArchived)
	}
}

func TestLifecycle_ArchiveIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")
	ctx := context.Background()

	if _, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionArchive})
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if !res.NoOp {
		t.Error("expected idempotent retry to be a no-op")
	}
	if res.Status != StatusArchived {
		t.Errorf("status = %q, want %q", res.Status, StatusArchived)
	}
}

func TestLifecycle_UnknownAction(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")

	_, err := lc.Apply(context.Background(), "i-1", ActionRequest{Action: Action("explode")})
	if !errors.Is(err, ErrUnknownAction) {
		t.Errorf("err = %v, want ErrUnknownAction", err)
	}
}

func TestLifecycle_MissingItem(t *testing.T) {
	t.Parallel()

	lc := newTestLifecycle(newFakeStore())
	_, err := lc.Apply(context.Background(), "missing", ActionRequest{Action: ActionArchive})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLifecycle_ActionedIsTerminal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")
	ctx := context.Background()

	if _, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionDone}); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	for _, action := range []Action{ActionArchive, ActionSpam, ActionRestore} {
		res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: action})
		if err != nil {
			t.Fatalf("%s after actioned: %v", action, err)
		}
		if !res.NoOp {
			t.Errorf("%s after actioned: expected no-op", action)
		}
		if res.Status != StatusActioned {
			t.Errorf("%s after actioned: status = %q, want unchanged", action, res.Status)
		}
	}
}

func TestLifecycle_ArchivedBlocksAllButRestore(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")
	ctx := context.Background()

	if _, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionArchive}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionDone})
	if err != nil {
		t.Fatalf("done on archived: %v", err)
	}
	if !res.NoOp || res.Reason == "" {
		t.Errorf("expected reasoned no-op, got %+v", res)
	}

	res, err = lc.Apply(ctx, "i-1", ActionRequest{Action: ActionRestore})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.NoOp {
		t.Fatal("restore from archived should apply")
	}
	if res.Status != StatusNew {
		t.Errorf("status = %q, want %q", res.Status, StatusNew)
	}
}

func TestLifecycle_SnoozeRequiresUntil(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")
	ctx := context.Background()

	res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionSnooze})
	if err != nil {
		t.Fatalf("snooze without until: %v", err)
	}
	if !res.NoOp {
		t.Error("expected no-op for snooze without an until time")
	}

	until := time.Now().Add(4 * time.Hour)
	res, err = lc.Apply(ctx, "i-1", ActionRequest{Action: ActionSnooze, SnoozeUntil: &until})
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if res.Status != StatusSnoozed {
		t.Errorf("status = %q, want %q", res.Status, StatusSnoozed)
	}

	it, _, _ := store.GetItem(ctx, "i-1")
	if it.SnoozeUntil == nil || !it.SnoozeUntil.Equal(until) {
		t.Errorf("snooze until = %v, want %v", it.SnoozeUntil, until)
	}
}

func TestLifecycle_RestoreStripsSnoozeAndActionNeeded(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	labeler := &fakeLabeler{}
	lc := NewLifecycle(store, nil, nil, map[connector.Kind]connector.Labeler{connector.KindEmail: labeler}, nil, Hooks{})
	seedItem(t, store, "i-1", "")
	ctx := context.Background()

	if _, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionActionNeeded}); err != nil {
		t.Fatalf("action needed: %v", err)
	}
	it, _, _ := store.GetItem(ctx, "i-1")
	if it.Enrichment.ActionNeededAt == nil || it.SnoozeUntil == nil {
		t.Fatal("action-needed should set timestamp and snooze")
	}

	res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionRestore})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.Status != StatusNew {
		t.Errorf("status = %q, want %q", res.Status, StatusNew)
	}

	it, _, _ = store.GetItem(ctx, "i-1")
	if it.Enrichment.ActionNeededAt != nil {
		t.Error("restore should strip the action-needed timestamp")
	}
	if it.SnoozeUntil != nil {
		t.Error("restore should clear the snooze")
	}
}

func TestLifecycle_ActionNeededEmailOnly(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	ctx := context.Background()

	it := newItem("i-chat")
	it.Connector = connector.KindChat
	if err := store.InsertItem(ctx, it); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := lc.Apply(ctx, "i-chat", ActionRequest{Action: ActionActionNeeded})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.NoOp {
		t.Error("expected no-op for action-needed on a chat item")
	}

	got, _, _ := store.GetItem(ctx, "i-chat")
	if got.Status != StatusNew {
		t.Errorf("status = %q, want unchanged %q", got.Status, StatusNew)
	}
}

func TestLifecycle_ActionNeededAppliesLabel(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	labeler := &fakeLabeler{}
	lc := NewLifecycle(store, nil, nil, map[connector.Kind]connector.Labeler{connector.KindEmail: labeler}, nil, Hooks{})
	it := seedItem(t, store, "i-1", "")
	ctx := context.Background()

	before := time.Now()
	res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionActionNeeded})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Status != StatusActionNeeded {
		t.Errorf("status = %q, want %q", res.Status, StatusActionNeeded)
	}
	if len(res.SideEffects) != 1 || res.SideEffects[0] != "label_applied" {
		t.Errorf("side effects = %v, want [label_applied]", res.SideEffects)
	}
	if labeler.applied[it.ExternalID] != "action-needed" {
		t.Errorf("label = %q, want %q", labeler.applied[it.ExternalID], "action-needed")
	}

	got, _, _ := store.GetItem(ctx, "i-1")
	if got.SnoozeUntil == nil {
		t.Fatal("expected fixed snooze to be set")
	}
	wake := got.SnoozeUntil.Sub(before)
	if wake < 71*time.Hour || wake > 73*time.Hour {
		t.Errorf("snooze duration = %v, want about 72h", wake)
	}
}

func TestLifecycle_ActionNeededLabelFailureIsSideEffect(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	labeler := &fakeLabeler{err: errors.New("imap down")}
	lc := NewLifecycle(store, nil, nil, map[connector.Kind]connector.Labeler{connector.KindEmail: labeler}, nil, Hooks{})
	seedItem(t, store, "i-1", "")

	res, err := lc.Apply(context.Background(), "i-1", ActionRequest{Action: ActionActionNeeded})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// The transition stands; the label failure is only reported.
	if res.Status != StatusActionNeeded {
		t.Errorf("status = %q, want %q", res.Status, StatusActionNeeded)
	}
	if len(res.SideEffects) != 1 || res.SideEffects[0] != "label_failed" {
		t.Errorf("side effects = %v, want [label_failed]", res.SideEffects)
	}
}

func TestLifecycle_ArchiveCancelsSuggestedTasks(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	canceller := &fakeCanceller{}
	lc := NewLifecycle(store, nil, canceller, nil, nil, Hooks{})
	seedItem(t, store, "i-1", "")

	res, err := lc.Apply(context.Background(), "i-1", ActionRequest{Action: ActionArchive})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(canceller.cancelled) != 1 || canceller.cancelled[0] != "i-1" {
		t.Errorf("cancelled = %v, want [i-1]", canceller.cancelled)
	}
	if len(res.SideEffects) != 1 || res.SideEffects[0] != "tasks_cancelled" {
		t.Errorf("side effects = %v, want [tasks_cancelled]", res.SideEffects)
	}
}

func TestLifecycle_ClassifyRequiresBatchType(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")

	res, err := lc.Apply(context.Background(), "i-1", ActionRequest{Action: ActionClassify})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.NoOp {
		t.Error("expected no-op for classify without a batch type")
	}
}

func TestLifecycle_ClassifyMovesToCard(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lc := newTestLifecycle(store)
	seedItem(t, store, "i-1", "")
	ctx := context.Background()

	res, err := lc.Apply(ctx, "i-1", ActionRequest{Action: ActionClassify, BatchType: "alerts"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.NoOp {
		t.Fatal("expected classify to apply")
	}

	card, ok, _ := store.GetCardByType(ctx, "alerts")
	if !ok || len(card.ItemIDs) != 1 {
		t.Fatalf("card = %+v, want one grouped item", card)
	}

	// Same target again is a no-op.
	res, err = lc.Apply(ctx, "i-1", ActionRequest{Action: ActionClassify, BatchType: "alerts"})
	if err != nil {
		t.Fatalf("repeat classify: %v", err)
	}
	if !res.NoOp {
		t.Error("expected repeat classify to be a no-op")
	}
}
