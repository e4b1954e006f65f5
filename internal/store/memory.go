package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/epcis-repository/internal/domain"
	"github.com/Priya8975/epcis-repository/internal/query"
)

// MemoryStore keeps events, named queries and subscriptions in process. It
// backs STORE=memory and the tests.
type MemoryStore struct {
	mu            sync.RWMutex
	events        []*domain.Event
	queries       map[string]domain.QueryDefinition
	subscriptions map[string]domain.Subscription
	now           func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		queries:       make(map[string]domain.QueryDefinition),
		subscriptions: make(map[string]domain.Subscription),
		now:           time.Now,
	}
}

// InsertEvent rejects an eventID that is already stored.
func (s *MemoryStore) InsertEvent(_ context.Context, ev *domain.Event) error {
	cp := *ev
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.ContainsFunc(s.events, func(e *domain.Event) bool { return e.EventID == ev.EventID }) {
		return fmt.Errorf("event %s: %w", ev.EventID, domain.ErrAlreadyExists)
	}
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) DeleteByCaptureID(_ context.Context, captureID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.events)
	s.events = slices.DeleteFunc(s.events, func(ev *domain.Event) bool {
		return ev.CaptureID == captureID
	})
	return int64(before - len(s.events)), nil
}

func (s *MemoryStore) QueryEvents(_ context.Context, spec *query.Spec) ([]*domain.Event, bool, error) {
	s.mu.RLock()
	snapshot := slices.Clone(s.events)
	s.mu.RUnlock()

	page, more := spec.Apply(snapshot)
	out := make([]*domain.Event, len(page))
	for i, ev := range page {
		cp := *ev
		out[i] = &cp
	}
	return out, more, nil
}

func (s *MemoryStore) CreateQuery(_ context.Context, q *domain.QueryDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[q.Name]; ok {
		return fmt.Errorf("query %s: %w", q.Name, domain.ErrAlreadyExists)
	}
	q.CreatedAt = s.now().UTC()
	s.queries[q.Name] = cloneQuery(*q)
	return nil
}

func (s *MemoryStore) GetQuery(_ context.Context, name string) (*domain.QueryDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queries[name]
	if !ok {
		return nil, nil
	}
	cp := cloneQuery(q)
	return &cp, nil
}

func (s *MemoryStore) ListQueries(_ context.Context) ([]domain.QueryDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queries := make([]domain.QueryDefinition, 0, len(s.queries))
	for _, q := range s.queries {
		queries = append(queries, cloneQuery(q))
	}
	slices.SortFunc(queries, func(a, b domain.QueryDefinition) int {
		return strings.Compare(a.Name, b.Name)
	})
	return queries, nil
}

func (s *MemoryStore) ReplaceQuery(_ context.Context, q *domain.QueryDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.queries[q.Name]
	if !ok {
		return fmt.Errorf("query %s: %w", q.Name, domain.ErrNoSuchName)
	}
	q.CreatedAt = existing.CreatedAt
	s.queries[q.Name] = cloneQuery(*q)
	return nil
}

func (s *MemoryStore) DeleteQuery(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[name]; !ok {
		return fmt.Errorf("query %s: %w", name, domain.ErrNoSuchName)
	}
	delete(s.queries, name)
	for id, sub := range s.subscriptions {
		if sub.QueryName == name {
			delete(s.subscriptions, id)
		}
	}
	return nil
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queries[sub.QueryName]; !ok {
		return fmt.Errorf("query %s: %w", sub.QueryName, domain.ErrNoSuchName)
	}
	if _, ok := s.subscriptions[sub.ID]; ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, domain.ErrAlreadyExists)
	}
	sub.CreatedAt = s.now().UTC()
	s.subscriptions[sub.ID] = cloneSubscription(*sub)
	return nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, queryName, id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok || sub.QueryName != queryName {
		return nil, nil
	}
	cp := cloneSubscription(sub)
	return &cp, nil
}

func (s *MemoryStore) ListSubscriptions(_ context.Context, queryName string) ([]domain.Subscription, error) {
	return s.filterSubscriptions(func(sub *domain.Subscription) bool {
		return sub.QueryName == queryName
	}), nil
}

func (s *MemoryStore) ListDueSubscriptions(_ context.Context, cutoff time.Time) ([]domain.Subscription, error) {
	return s.filterSubscriptions(func(sub *domain.Subscription) bool {
		if sub.Status != domain.SubscriptionActive || !sub.Scheduled() {
			return false
		}
		if sub.LastExecutedAt == nil {
			return true
		}
		return sub.Recurring() && sub.LastExecutedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, queryName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok || sub.QueryName != queryName {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNoSuchResource)
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *MemoryStore) MarkExecuted(_ context.Context, id string, at time.Time) error {
	return s.updateSubscription(id, func(sub *domain.Subscription) {
		t := at
		sub.LastExecutedAt = &t
	})
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status domain.SubscriptionStatus, errorMessage string) error {
	return s.updateSubscription(id, func(sub *domain.Subscription) {
		sub.Status = status
		sub.ErrorMessage = errorMessage
	})
}

func (s *MemoryStore) updateSubscription(id string, fn func(*domain.Subscription)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNoSuchResource)
	}
	fn(&sub)
	s.subscriptions[id] = sub
	return nil
}

func (s *MemoryStore) filterSubscriptions(keep func(*domain.Subscription) bool) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := []domain.Subscription{}
	for _, sub := range s.subscriptions {
		if keep(&sub) {
			subs = append(subs, cloneSubscription(sub))
		}
	}
	slices.SortFunc(subs, func(a, b domain.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return subs
}

func cloneQuery(q domain.QueryDefinition) domain.QueryDefinition {
	q.Query = slices.Clone(q.Query)
	return q
}

func cloneSubscription(sub domain.Subscription) domain.Subscription {
	if sub.InitialRecordTime != nil {
		t := *sub.InitialRecordTime
		sub.InitialRecordTime = &t
	}
	if sub.LastExecutedAt != nil {
		t := *sub.LastExecutedAt
		sub.LastExecutedAt = &t
	}
	return sub
}
