package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"campus-courier/models"
)

const appealColumns = `id, task_id, creator_id, reason, status, admin_reply, handled_by, created_at, updated_at`

func (s *SQLStore) CreateAppeal(ctx context.Context, a *models.Appeal) error {
	query := s.dialect.Rebind(`INSERT INTO appeals (` + appealColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.TaskID, a.CreatorID, a.Reason, string(a.Status), a.AdminReply, a.HandledBy,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert appeal: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAppeal(ctx context.Context, id string) (*models.Appeal, error) {
	query := s.dialect.Rebind(`SELECT ` + appealColumns + ` FROM appeals WHERE id = ?`)
	a, err := scanAppeal(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.Errorf(models.ErrNotFound, "appeal %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load appeal %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLStore) ListAppealsByCreator(ctx context.Context, userID string) ([]models.Appeal, error) {
	query := s.dialect.Rebind(`SELECT ` + appealColumns + ` FROM appeals
		WHERE creator_id = ? ORDER BY created_at DESC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query appeals: %w", err)
	}
	defer rows.Close()

	appeals := []models.Appeal{}
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appeal: %w", err)
		}
		appeals = append(appeals, *a)
	}
	return appeals, rows.Err()
}

func (s *SQLStore) UpdateAppeal(ctx context.Context, a *models.Appeal, expected models.AppealStatus) error {
	query := s.dialect.Rebind(`UPDATE appeals SET status = ?, admin_reply = ?, handled_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query,
		string(a.Status), a.AdminReply, a.HandledBy, a.UpdatedAt.UTC(), a.ID, string(expected))
	if err != nil {
		return fmt.Errorf("failed to update appeal %s: %w", a.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := s.GetAppeal(ctx, a.ID); err != nil {
			return err
		}
		return models.Errorf(models.ErrConcurrencyConflict, "appeal %s is no longer %s", a.ID, expected)
	}
	return nil
}

func scanAppeal(row rowScanner) (*models.Appeal, error) {
	var (
		a      models.Appeal
		status string
	)
	err := row.Scan(&a.ID, &a.TaskID, &a.CreatorID, &a.Reason, &status, &a.AdminReply, &a.HandledBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AppealStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (s *MemoryStore) CreateAppeal(ctx context.Context, a *models.Appeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.appeals[a.ID]; exists {
		return fmt.Errorf("appeal %s already exists", a.ID)
	}
	if _, ok := s.tasks[a.TaskID]; !ok {
		return models.Errorf(models.ErrNotFound, "task %s", a.TaskID)
	}
	c := *a
	s.appeals[a.ID] = &c
	return nil
}

func (s *MemoryStore) GetAppeal(ctx context.Context, id string) (*models.Appeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appeals[id]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "appeal %s", id)
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) ListAppealsByCreator(ctx context.Context, userID string) ([]models.Appeal, error) {
	s.mu.RLock()
	appeals := []models.Appeal{}
	for _, a := range s.appeals {
		if a.CreatorID == userID {
			appeals = append(appeals, *a)
		}
	}
	s.mu.RUnlock()

	sort.Slice(appeals, func(i, j int) bool {
		if c := appeals[i].CreatedAt.Compare(appeals[j].CreatedAt); c != 0 {
			return c > 0
		}
		return appeals[i].ID < appeals[j].ID
	})
	return appeals, nil
}

func (s *MemoryStore) UpdateAppeal(ctx context.Context, a *models.Appeal, expected models.AppealStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.appeals[a.ID]
	if !ok {
		return models.Errorf(models.ErrNotFound, "appeal %s", a.ID)
	}
	if stored.Status != expected {
		return models.Errorf(models.ErrConcurrencyConflict, "appeal %s is no longer %s", a.ID, expected)
	}
	c := *a
	s.appeals[a.ID] = &c
	return nil
}
