package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

// fakeConnector produces canned events and fails normalization for
// external IDs listed in malformed.
type fakeConnector struct {
	name      string
	kind      connector.Kind
	events    []connector.RawEvent
	malformed map[string]bool
}

func (c *fakeConnector) Name() string         { return c.name }
func (c *fakeConnector) Kind() connector.Kind { return c.kind }

func (c *fakeConnector) Sync(_ context.Context, _ time.Time) ([]connector.RawEvent, error) {
	return c.events, nil
}

func (c *fakeConnector) Normalize(ev connector.RawEvent) (*connector.Draft, error) {
	if c.malformed[ev.ExternalID] {
		return nil, errors.New("unparseable payload")
	}
	return &connector.Draft{
		Connector:  c.kind,
		ExternalID: ev.ExternalID,
		Sender:     "sender@example.com",
		Subject:    "subject " + ev.ExternalID,
		ReceivedAt: ev.ReceivedAt,
	}, nil
}

func rawEvents(n int) []connector.RawEvent {
	out := make([]connector.RawEvent, 0, n)
	for i := range n {
		out = append(out, connector.RawEvent{
			ExternalID: fmt.Sprintf("ev-%d", i),
			ReceivedAt: time.Now(),
		})
	}
	return out
}

func newTestGate(store Store) *Gate {
	classifier := NewClassifier(nil, nil, nil, store, nil, Hooks{})
	g := NewGate(store, classifier, nil, nil, Hooks{})
	g.batchDelay = 0
	return g
}

func TestGate_IngestBatch(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gate := newTestGate(store)
	conn := &fakeConnector{name: "mail", kind: connector.KindEmail, events: rawEvents(7)}

	sum := gate.IngestBatch(context.Background(), conn, conn.events)

	if sum.Synced != 7 {
		t.Errorf("synced = %d, want 7", sum.Synced)
	}
	if sum.Skipped != 0 || sum.Errors != 0 {
		t.Errorf("skipped = %d, errors = %d, want 0, 0", sum.Skipped, sum.Errors)
	}

	items, err := store.ListQueue(context.Background())
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(items) != 7 {
		t.Fatalf("queue len = %d, want 7", len(items))
	}
	if items[0].Status != StatusNew {
		t.Errorf("status = %q, want %q", items[0].Status, StatusNew)
	}
}

func TestGate_DedupSkipsSeenEvents(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gate := newTestGate(store)
	conn := &fakeConnector{name: "mail", kind: connector.KindEmail, events: rawEvents(3)}

	first := gate.IngestBatch(context.Background(), conn, conn.events)
	if first.Synced != 3 {
		t.Fatalf("first sync synced = %d, want 3", first.Synced)
	}

	second := gate.IngestBatch(context.Background(), conn, conn.events)
	if second.Synced != 0 {
		t.Errorf("second sync synced = %d, want 0", second.Synced)
	}
	if second.Skipped != 3 {
		t.Errorf("second sync skipped = %d, want 3", second.Skipped)
	}
}

func TestGate_MalformedEventIsolated(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gate := newTestGate(store)
	conn := &fakeConnector{
		name:      "mail",
		kind:      connector.KindEmail,
		events:    rawEvents(5),
		malformed: map[string]bool{"ev-2": true},
	}

	sum := gate.IngestBatch(context.Background(), conn, conn.events)

	if sum.Synced != 4 {
		t.Errorf("synced = %d, want 4", sum.Synced)
	}
	if sum.Errors != 1 {
		t.Errorf("errors = %d, want 1", sum.Errors)
	}
	if len(sum.ErrorMessages) != 1 {
		t.Fatalf("error messages = %d, want 1", len(sum.ErrorMessages))
	}
	if !strings.Contains(sum.ErrorMessages[0], "ev-2") {
		t.Errorf("error message %q does not identify the failed event", sum.ErrorMessages[0])
	}
}

func TestGate_AllErrorMessagesCollected(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gate := newTestGate(store)
	malformed := make(map[string]bool)
	for i := range 8 {
		malformed[fmt.Sprintf("ev-%d", i)] = true
	}
	conn := &fakeConnector{name: "mail", kind: connector.KindEmail, events: rawEvents(8), malformed: malformed}

	sum := gate.IngestBatch(context.Background(), conn, conn.events)

	// Logging caps out, the summary does not.
	if sum.Errors != 8 {
		t.Errorf("errors = %d, want 8", sum.Errors)
	}
	if len(sum.ErrorMessages) != 8 {
		t.Errorf("error messages = %d, want all 8", len(sum.ErrorMessages))
	}
}

func TestGate_BatchTypeAssignsCard(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_ = store.InsertRule(context.Background(),
		mkRule("r-1", TriggerSenderExact, "sender@example.com", "sender-batch", time.Now()))

	cache := NewRuleCache(store, 0)
	classifier := NewClassifier(cache, nil, nil, store, nil, Hooks{})
	batch := NewBatchEngine(store, cache, nil, Hooks{})
	gate := NewGate(store, classifier, batch, nil, Hooks{})
	gate.batchDelay = 0

	conn := &fakeConnector{name: "mail", kind: connector.KindEmail, events: rawEvents(2)}
	sum := gate.IngestBatch(context.Background(), conn, conn.events)

	if sum.Synced != 2 {
		t.Fatalf("synced = %d, want 2", sum.Synced)
	}

	card, ok, err := store.GetCardByType(context.Background(), "sender-batch")
	if err != nil {
		t.Fatalf("GetCardByType: %v", err)
	}
	if !ok {
		t.Fatal("expected a batch card")
	}
	if len(card.ItemIDs) != 2 {
		t.Errorf("card items = %d, want 2", len(card.ItemIDs))
	}

	queue, _ := store.ListQueue(context.Background())
	if len(queue) != 0 {
		t.Errorf("queue len = %d, want 0 (items grouped on card)", len(queue))
	}
}

func TestGate_ExtractPending(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	gate := newTestGate(store)
	conn := &fakeConnector{name: "mail", kind: connector.KindEmail, events: rawEvents(2)}

	// No oracles wired: both items land with tier none.
	gate.IngestBatch(context.Background(), conn, conn.events)

	// Teach a rule, then retry extraction.
	_ = store.InsertRule(context.Background(),
		mkRule("r-1", TriggerSenderExact, "sender@example.com", BatchTypeIndividual, time.Now()))
	gate.classifier = NewClassifier(NewRuleCache(store, 0), nil, nil, store, nil, Hooks{})

	enriched, failed, err := gate.ExtractPending(context.Background())
	if err != nil {
		t.Fatalf("ExtractPending: %v", err)
	}
	if enriched != 2 {
		t.Errorf("enriched = %d, want 2", enriched)
	}
	if failed != 0 {
		t.Errorf("failed = %d, want 0", failed)
	}

	queue, _ := store.ListQueue(context.Background())
	for _, it := range queue {
		if it.TierUsed != TierRule {
			t.Errorf("item %s tier = %q, want %q", it.ID, it.TierUsed, TierRule)
		}
	}
}
