package triage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

var errStoreDown = errors.New("store down")

// fakeStore is a minimal in-memory Store for exercising the engines
// without importing memstore (which would cycle).
type fakeStore struct {
	mu       sync.Mutex
	items    map[string]*Item
	cards    map[string]*BatchCard
	rules    map[string]*Rule
	activity []*ActivityEntry

	failUpdate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: make(map[string]*Item),
		cards: make(map[string]*BatchCard),
		rules: make(map[string]*Rule),
	}
}

func (s *fakeStore) GetItem(_ context.Context, id string) (*Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return cloneItem(it), true, nil
}

func (s *fakeStore) ItemExists(_ context.Context, kind connector.Kind, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Connector == kind && it.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertItem(_ context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.items {
		if existing.Connector == it.Connector && existing.ExternalID == it.ExternalID {
			return ErrDuplicateItem
		}
	}
	s.items[it.ID] = cloneItem(it)
	return nil
}

func (s *fakeStore) UpdateItem(_ context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return errStoreDown
	}
	if _, ok := s.items[it.ID]; !ok {
		return ErrNotFound
	}
	s.items[it.ID] = cloneItem(it)
	return nil
}

func (s *fakeStore) ListQueue(_ context.Context) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Item
	for _, it := range s.items {
		if it.Status == StatusNew && it.BatchType == "" {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) GetCard(_ context.Context, id string) (*BatchCard, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, false, nil
	}
	return cloneCard(c), true, nil
}

func (s *fakeStore) GetCardByType(_ context.Context, batchType string) (*BatchCard, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cards {
		if c.BatchType == batchType {
			return cloneCard(c), true, nil
		}
	}
	return nil, false, nil
}

func (s *fakeStore) PutCard(_ context.Context, card *BatchCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = cloneCard(card)
	return nil
}

func (s *fakeStore) DeleteCard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cards, id)
	return nil
}

func (s *fakeStore) ListCards(_ context.Context) ([]*BatchCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*BatchCard
	for _, c := range s.cards {
		out = append(out, cloneCard(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ResolveCard(_ context.Context, cardID string, items []*Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = cloneItem(it)
	}
	delete(s.cards, cardID)
	return nil
}

func (s *fakeStore) RestoreResolution(_ context.Context, card *BatchCard, items []*Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = cloneCard(card)
	for _, it := range items {
		s.items[it.ID] = cloneItem(it)
	}
	return nil
}

func (s *fakeStore) InsertRule(_ context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *fakeStore) IncrementRuleMatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return ErrNotFound
	}
	r.MatchCount++
	return nil
}

func (s *fakeStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *fakeStore) ListRules(_ context.Context) ([]*Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Rule
	for _, r := range s.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) AppendActivity(_ context.Context, e *ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, e)
	return nil
}

func (s *fakeStore) ListActivity(_ context.Context, limit int) ([]*ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ActivityEntry, 0, limit)
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.activity[i])
	}
	return out, nil
}
