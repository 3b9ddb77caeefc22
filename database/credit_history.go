package database

import (
	"context"
	"sort"
	"sync"

	"campus-courier/models"
)

// MemoryCreditHistory keeps credit changes in process when Firestore is not configured.
type MemoryCreditHistory struct {
	mu      sync.Mutex
	changes map[string][]models.CreditChange
}

func NewMemoryCreditHistory() *MemoryCreditHistory {
	return &MemoryCreditHistory{changes: make(map[string][]models.CreditChange)}
}

func (h *MemoryCreditHistory) RecordCreditChanges(ctx context.Context, changes []models.CreditChange) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range changes {
		h.changes[c.UserID] = append(h.changes[c.UserID], c)
	}
	return nil
}

func (h *MemoryCreditHistory) ListCreditChanges(ctx context.Context, userID string, limit int) ([]models.CreditChange, error) {
	h.mu.Lock()
	out := append([]models.CreditChange{}, h.changes[userID]...)
	h.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
