package categorization

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/bank-reconciler/pkg/apperror"
)

// memoryPatterns mirrors the conditional upsert of the PostgreSQL repository.
type memoryPatterns struct {
	mu         sync.Mutex
	byKey      map[string]*Pattern
	categories map[uuid.UUID]Category
	touched    []uuid.UUID
	failWith   error
}

func newMemoryPatterns() *memoryPatterns {
	return &memoryPatterns{
		byKey:      make(map[string]*Pattern),
		categories: make(map[uuid.UUID]Category),
	}
}

func patternKey(userID uuid.UUID, pattern string) string {
	return userID.String() + "|" + pattern
}

func (m *memoryPatterns) addCategory(userID uuid.UUID, name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.categories[id] = Category{ID: id, UserID: userID, Name: name, Type: "expenditure"}
	return id
}

func (m *memoryPatterns) seed(p Pattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byKey[patternKey(p.UserID, p.Pattern)] = &p
}

func (m *memoryPatterns) get(userID uuid.UUID, pattern string) (Pattern, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byKey[patternKey(userID, pattern)]
	if !ok {
		return Pattern{}, false
	}
	return *p, true
}

func (m *memoryPatterns) ListPatterns(ctx context.Context, userID uuid.UUID) ([]Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	var out []Pattern
	for _, p := range m.byKey {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Pattern) int {
		return cmp.Or(cmp.Compare(b.ConfidenceScore, a.ConfidenceScore), cmp.Compare(a.Pattern, b.Pattern))
	})
	return out, nil
}

func (m *memoryPatterns) UpsertPattern(ctx context.Context, userID uuid.UUID, pattern string, categoryID uuid.UUID, count int) (*Pattern, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, false, m.failWith
	}
	now := time.Now()
	key := patternKey(userID, pattern)
	p, ok := m.byKey[key]
	if !ok {
		p = &Pattern{
			ID: uuid.New(), UserID: userID, Pattern: pattern, CategoryID: categoryID,
			ConfidenceScore: InitialConfidence(count), MatchCount: count,
			CreatedAt: now, UpdatedAt: now,
		}
		m.byKey[key] = p
		out := *p
		return &out, true, nil
	}
	if p.CategoryID != categoryID {
		return nil, false, &apperror.ConflictError{
			Pattern:             pattern,
			ExistingCategoryID:  p.CategoryID.String(),
			RequestedCategoryID: categoryID.String(),
		}
	}
	p.MatchCount += count
	p.ConfidenceScore = Reinforced(p.ConfidenceScore)
	p.UpdatedAt = now
	out := *p
	return &out, false, nil
}

func (m *memoryPatterns) TouchPatterns(ctx context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, ids...)
	return nil
}

func (m *memoryPatterns) GetCategory(ctx context.Context, userID, id uuid.UUID) (*Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok || c.UserID != userID {
		return nil, apperror.NewNotFound("category", id)
	}
	return &c, nil
}

func (m *memoryPatterns) ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Category
	for _, c := range m.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Category) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}
