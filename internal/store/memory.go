package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vantagetrading/approvald/internal/models"
)

type MemoryStore struct {
	mu        sync.RWMutex
	decisions []models.Decision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendDecision(ctx context.Context, d models.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *MemoryStore) LatestDecision(ctx context.Context, approvalKey string) (models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.decisions) - 1; i >= 0; i-- {
		if m.decisions[i].ApprovalKey == approvalKey {
			return m.decisions[i], nil
		}
	}
	return models.Decision{}, ErrNotFound
}

func (m *MemoryStore) ListDecisions(ctx context.Context, filter ListFilter) ([]models.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Decision
	for _, d := range m.decisions {
		if filter.ApprovalKey != "" && d.ApprovalKey != filter.ApprovalKey {
			continue
		}
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		if filter.Action != "" && d.Action != filter.Action {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DecidedAt.After(out[j].DecidedAt)
	})
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(out) {
		start = len(out)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	result := make([]models.Decision, end-start)
	copy(result, out[start:end])
	return result, nil
}

func (m *MemoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.decisions[:0]
	pruned := 0
	for _, d := range m.decisions {
		if d.DecidedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, d)
	}
	m.decisions = kept
	return pruned, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
