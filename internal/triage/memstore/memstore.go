// Package memstore provides an in-memory implementation of triage.Store.
// Suitable for dev/testing.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

type externalKey struct {
	kind       connector.Kind
	externalID string
}

// Store holds triage state in memory behind one mutex, which also gives
// the coarse batch operations their atomicity.
type Store struct {
	mu       sync.RWMutex
	items    map[string]*triage.Item
	byExt    map[externalKey]string
	cards    map[string]*triage.BatchCard
	rules    map[string]*triage.Rule
	activity []*triage.ActivityEntry
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		items: make(map[string]*triage.Item),
		byExt: make(map[externalKey]string),
		cards: make(map[string]*triage.BatchCard),
		rules: make(map[string]*triage.Rule),
	}
}

// GetItem retrieves an item by ID. Returns a copy.
func (s *Store) GetItem(_ context.Context, id string) (*triage.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return copyItem(it), true, nil
}

// ItemExists reports whether (connector, externalID) has been ingested.
func (s *Store) ItemExists(_ context.Context, kind connector.Kind, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byExt[externalKey{kind, externalID}]
	return ok, nil
}

// InsertItem stores a copy of the item, returning ErrDuplicateItem when
// (connector, external_id) is already present.
func (s *Store) InsertItem(_ context.Context, it *triage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := externalKey{it.Connector, it.ExternalID}
	if _, ok := s.byExt[key]; ok {
		return triage.ErrDuplicateItem
	}
	s.items[it.ID] = copyItem(it)
	s.byExt[key] = it.ID
	return nil
}

// UpdateItem overwrites an existing item.
func (s *Store) UpdateItem(_ context.Context, it *triage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[it.ID]; !ok {
		return triage.ErrNotFound
	}
	s.items[it.ID] = copyItem(it)
	return nil
}

// ListQueue returns individual-queue items ordered by priority band, then
// most recently updated first.
func (s *Store) ListQueue(_ context.Context) ([]*triage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Item
	for _, it := range s.items {
		if it.Status == triage.StatusNew && it.BatchType == "" {
			out = append(out, copyItem(it))
		}
	}
	sortQueue(out)
	return out, nil
}

// GetCard retrieves a batch card by ID. Returns a copy.
func (s *Store) GetCard(_ context.Context, id string) (*triage.BatchCard, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, false, nil
	}
	return copyCard(c), true, nil
}

// GetCardByType retrieves the card for a batch type, if one exists.
func (s *Store) GetCardByType(_ context.Context, batchType string) (*triage.BatchCard, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cards {
		if c.BatchType == batchType {
			return copyCard(c), true, nil
		}
	}
	return nil, false, nil
}

// PutCard stores a copy of the card.
func (s *Store) PutCard(_ context.Context, card *triage.BatchCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = copyCard(card)
	return nil
}

// DeleteCard removes a card.
func (s *Store) DeleteCard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cards, id)
	return nil
}

// ListCards returns all cards, newest first.
func (s *Store) ListCards(_ context.Context) ([]*triage.BatchCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.BatchCard, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, copyCard(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ResolveCard applies the item updates and deletes the card under one
// lock, so no reader observes an item both carded and queued.
func (s *Store) ResolveCard(_ context.Context, cardID string, items []*triage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return triage.ErrNotFound
	}
	for _, it := range items {
		s.items[it.ID] = copyItem(it)
	}
	delete(s.cards, cardID)
	return nil
}

// RestoreResolution re-creates a card and restores item snapshots under
// one lock (bulk undo).
func (s *Store) RestoreResolution(_ context.Context, card *triage.BatchCard, items []*triage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = copyCard(card)
	for _, it := range items {
		s.items[it.ID] = copyItem(it)
	}
	return nil
}

// InsertRule stores a copy of the rule.
func (s *Store) InsertRule(_ context.Context, r *triage.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

// IncrementRuleMatch bumps a rule's match count.
func (s *Store) IncrementRuleMatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return triage.ErrNotFound
	}
	r.MatchCount++
	return nil
}

// DeleteRule removes a rule permanently.
func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return triage.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

// ListRules returns all rules, newest first.
func (s *Store) ListRules(_ context.Context) ([]*triage.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AppendActivity appends an audit record.
func (s *Store) AppendActivity(_ context.Context, e *triage.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.activity = append(s.activity, &cp)
	return nil
}

// ListActivity returns the newest records first, up to limit.
func (s *Store) ListActivity(_ context.Context, limit int) ([]*triage.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.activity)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*triage.ActivityEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *s.activity[i]
		out = append(out, &cp)
	}
	return out, nil
}

func sortQueue(items []*triage.Item) {
	rank := func(p triage.Priority) int {
		switch p {
		case triage.PriorityUrgent:
			return 0
		case triage.PriorityHigh:
			return 1
		case triage.PriorityLow:
			return 3
		default:
			return 2
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := rank(items[i].Priority), rank(items[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
}

func copyItem(it *triage.Item) *triage.Item {
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

func copyCard(c *triage.BatchCard) *triage.BatchCard {
	cp := *c
	cp.ItemIDs = append([]string(nil), c.ItemIDs...)
	return &cp
}
