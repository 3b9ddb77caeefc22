package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"campus-courier/models"
	"campus-courier/services"
)

const taskColumns = `id, title, description,
	pickup_location_name, pickup_lat, pickup_lng,
	dropoff_location_name, dropoff_lat, dropoff_lng,
	reward_amount, category, urgency, status, grab_expires_at, cancelled_by,
	creator_id, assignee_id, accepted_at, created_at, updated_at`

const userColumns = `id, firebase_uid, email, display_name, phone, campus, role, credit_score, created_at`

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore implements services.Store on PostgreSQL or SQLite.
type SQLStore struct {
	db          *sql.DB
	dialect     Dialect
	lockTimeout time.Duration
}

func NewSQLStore(db *sql.DB, dialect Dialect, lockTimeout time.Duration) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, lockTimeout: lockTimeout}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(tx services.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
			err = classifyError(err)
		} else {
			err = classifyError(tx.Commit())
		}
	}()

	if stmt := s.dialect.lockTimeoutStatement(s.lockTimeout); stmt != "" {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return fn(&sqlTx{q: tx, dialect: s.dialect})
}

func (s *SQLStore) CreateTask(ctx context.Context, task *models.Task) error {
	query := s.dialect.Rebind(`INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	args := append([]any{task.ID, task.Title, task.Description}, taskMutableArgs(task)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, s.db, s.dialect, id, false)
}

func (s *SQLStore) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	var (
		conds []string
		args  []any
	)
	if f.Keyword != "" {
		conds = append(conds, fmt.Sprintf("(title %[1]s ? OR description %[1]s ?)", s.dialect.like))
		like := "%" + f.Keyword + "%"
		args = append(args, like, like)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Urgency != "" {
		conds = append(conds, "urgency = ?")
		args = append(args, string(f.Urgency))
	}
	if f.MinReward != nil {
		v, _ := f.MinReward.Float64()
		conds = append(conds, s.dialect.rewardExpr+" >= ?")
		args = append(args, v)
	}
	if f.MaxReward != nil {
		v, _ := f.MaxReward.Float64()
		conds = append(conds, s.dialect.rewardExpr+" <= ?")
		args = append(args, v)
	}
	if f.PickupLike != "" {
		conds = append(conds, "pickup_location_name "+s.dialect.like+" ?")
		args = append(args, "%"+f.PickupLike+"%")
	}
	if f.DropoffLike != "" {
		conds = append(conds, "dropoff_location_name "+s.dialect.like+" ?")
		args = append(args, "%"+f.DropoffLike+"%")
	}
	if f.CreatedSince != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.CreatedSince.UTC())
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	order := "created_at"
	if f.SortBy == "reward_amount" {
		order = s.dialect.rewardExpr
	}
	direction := "DESC"
	if f.SortAsc {
		direction = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", order, direction)

	return queryTasks(ctx, s.db, s.dialect.Rebind(query), args...)
}

func (s *SQLStore) ListExpiredPendingTasks(ctx context.Context, now time.Time) ([]models.Task, error) {
	query := s.dialect.Rebind(`SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ? AND grab_expires_at IS NOT NULL AND grab_expires_at < ?
		ORDER BY grab_expires_at ASC`)
	return queryTasks(ctx, s.db, query, string(models.StatusPending), now.UTC())
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, s.db, s.dialect, "id", id, false)
}

func (s *SQLStore) GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	return getUser(ctx, s.db, s.dialect, "firebase_uid", uid, false)
}

func (s *SQLStore) EnsureUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.FirebaseUID == "" {
		return nil, models.Errorf(models.ErrInvalidInput, "firebase uid is required")
	}
	existing, err := s.GetUserByFirebaseUID(ctx, user.FirebaseUID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	id := user.ID
	if id == "" {
		id = uuid.NewString()
	}
	role := user.Role
	if role == "" {
		role = models.RoleStudent
	}
	score := user.CreditScore
	if score == 0 {
		score = models.DefaultCreditScore
	}
	query := s.dialect.Rebind(`INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (firebase_uid) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query,
		id, user.FirebaseUID, user.Email, user.DisplayName, user.Phone, user.Campus, role, score, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return s.GetUserByFirebaseUID(ctx, user.FirebaseUID)
}

// sqlTx is the services.Tx view over an open *sql.Tx.
type sqlTx struct {
	q       queryer
	dialect Dialect
}

func (t *sqlTx) GetTaskForUpdate(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, t.q, t.dialect, id, true)
}

func (t *sqlTx) SaveTask(ctx context.Context, task *models.Task) error {
	query := t.dialect.Rebind(`UPDATE tasks SET
		pickup_location_name = ?, pickup_lat = ?, pickup_lng = ?,
		dropoff_location_name = ?, dropoff_lat = ?, dropoff_lng = ?,
		reward_amount = ?, category = ?, urgency = ?, status = ?, grab_expires_at = ?, cancelled_by = ?,
		creator_id = ?, assignee_id = ?, accepted_at = ?, created_at = ?, updated_at = ?
		WHERE id = ?`)
	args := append(taskMutableArgs(task), task.ID)
	res, err := t.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Errorf(models.ErrNotFound, "task %s", task.ID)
	}
	return nil
}

func (t *sqlTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, t.q, t.dialect, "id", id, false)
}

func (t *sqlTx) GetUserForUpdate(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, t.q, t.dialect, "id", id, true)
}

func (t *sqlTx) SaveUser(ctx context.Context, user *models.User) error {
	query := t.dialect.Rebind(`UPDATE users SET email = ?, display_name = ?, phone = ?, campus = ?, role = ?, credit_score = ?
		WHERE id = ?`)
	res, err := t.q.ExecContext(ctx, query,
		user.Email, user.DisplayName, user.Phone, user.Campus, user.Role, user.CreditScore, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.Errorf(models.ErrNotFound, "user %s", user.ID)
	}
	return nil
}

func (t *sqlTx) RecentClaims(ctx context.Context, userID string, since time.Time) (models.ClaimHistory, error) {
	query := t.dialect.Rebind(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE assignee_id = ? AND accepted_at >= ?`)
	var h models.ClaimHistory
	if err := t.q.QueryRowContext(ctx, query, userID, since.UTC()).Scan(&h.Claimed, &h.Cancelled); err != nil {
		return h, fmt.Errorf("failed to count recent claims for %s: %w", userID, err)
	}
	return h, nil
}

func getTask(ctx context.Context, q queryer, d Dialect, id string, forUpdate bool) (*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE id = ?"
	if forUpdate {
		query += d.forUpdate
	}
	task, err := scanTask(q.QueryRowContext(ctx, d.Rebind(query), id))
	if err == sql.ErrNoRows {
		return nil, models.Errorf(models.ErrNotFound, "task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return task, nil
}

func queryTasks(ctx context.Context, q queryer, query string, args ...any) ([]models.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func getUser(ctx context.Context, q queryer, d Dialect, column, value string, forUpdate bool) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + column + " = ?"
	if forUpdate {
		query += d.forUpdate
	}
	var u models.User
	err := q.QueryRowContext(ctx, d.Rebind(query), value).Scan(
		&u.ID, &u.FirebaseUID, &u.Email, &u.DisplayName, &u.Phone, &u.Campus, &u.Role, &u.CreditScore, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.Errorf(models.ErrNotFound, "user %s", value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", value, err)
	}
	if u.Stats, err = userStats(ctx, q, d, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func userStats(ctx context.Context, q queryer, d Dialect, userID string) (models.UserStats, error) {
	query := d.Rebind(`SELECT
		COALESCE(SUM(CASE WHEN assignee_id = ? AND status NOT IN ('completed', 'cancelled') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN creator_id = ? AND status NOT IN ('completed', 'cancelled') THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN assignee_id = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN assignee_id = ? AND status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN creator_id = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN creator_id = ? AND status = 'completed' THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE creator_id = ? OR assignee_id = ?`)
	var s models.UserStats
	err := q.QueryRowContext(ctx, query, userID, userID, userID, userID, userID, userID, userID, userID).Scan(
		&s.ActiveAssigned, &s.ActiveCreated, &s.TotalAssigned, &s.CompletedAssigned, &s.TotalCreated, &s.CompletedCreated,
	)
	if err != nil {
		return s, fmt.Errorf("failed to aggregate tasks for user %s: %w", userID, err)
	}
	return s, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                         models.Task
		pickupLat, pickupLng      sql.NullFloat64
		dropoffLat, dropoffLng    sql.NullFloat64
		grabExpiresAt, acceptedAt sql.NullTime
		cancelledBy, assigneeID   sql.NullString
		category, urgency, status string
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description,
		&t.Pickup.Name, &pickupLat, &pickupLng,
		&t.Dropoff.Name, &dropoffLat, &dropoffLng,
		&t.Reward, &category, &urgency, &status, &grabExpiresAt, &cancelledBy,
		&t.CreatorID, &assigneeID, &acceptedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Category = models.TaskCategory(category)
	t.Urgency = models.TaskUrgency(urgency)
	t.Status = models.TaskStatus(status)
	t.CancelledBy = models.CancelledBy(cancelledBy.String)
	t.AssigneeID = assigneeID.String
	if pickupLat.Valid && pickupLng.Valid {
		t.Pickup.Coords = &models.Coordinates{Lat: pickupLat.Float64, Lng: pickupLng.Float64}
	}
	if dropoffLat.Valid && dropoffLng.Valid {
		t.Dropoff.Coords = &models.Coordinates{Lat: dropoffLat.Float64, Lng: dropoffLng.Float64}
	}
	if grabExpiresAt.Valid {
		g := grabExpiresAt.Time.UTC()
		t.GrabExpiresAt = &g
	}
	if acceptedAt.Valid {
		a := acceptedAt.Time.UTC()
		t.AcceptedAt = &a
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// taskMutableArgs lists every column after id, title and description, in taskColumns order.
func taskMutableArgs(t *models.Task) []any {
	return []any{
		t.Pickup.Name, latOf(t.Pickup.Coords), lngOf(t.Pickup.Coords),
		t.Dropoff.Name, latOf(t.Dropoff.Coords), lngOf(t.Dropoff.Coords),
		t.Reward, string(t.Category), string(t.Urgency), string(t.Status),
		nullTime(t.GrabExpiresAt), nullString(string(t.CancelledBy)),
		t.CreatorID, nullString(t.AssigneeID), nullTime(t.AcceptedAt),
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	}
}

func latOf(c *models.Coordinates) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}
}

func lngOf(c *models.Coordinates) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lng, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
