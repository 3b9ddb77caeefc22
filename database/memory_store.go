package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"campus-courier/models"
	"campus-courier/services"
)

// lockTable hands out one exclusive lock per key. Entries are dropped once
// nobody holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// acquire blocks until key is free, ctx is done or timeout elapses.
func (l *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	k, ok := l.locks[key]
	if !ok {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = k
	}
	k.refs++
	l.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case k.ch <- struct{}{}:
		return func() {
			<-k.ch
			l.unref(key, k)
		}, nil
	case <-ctx.Done():
		l.unref(key, k)
		return nil, models.Errorf(models.ErrConcurrencyConflict, "waiting for %s: %v", key, ctx.Err())
	case <-expired:
		l.unref(key, k)
		return nil, models.Errorf(models.ErrConcurrencyConflict, "lock timeout on %s", key)
	}
}

func (l *lockTable) unref(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 && l.locks[key] == k {
		delete(l.locks, key)
	}
}

// MemoryStore is a process-local services.Store. Writes made inside InTx
// are staged and become visible together on commit.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]*models.Task
	users       map[string]*models.User
	byUID       map[string]string
	evaluations []*models.Evaluation
	appeals     map[string]*models.Appeal
	locks       *lockTable
	lockTimeout time.Duration
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[string]*models.Task),
		users:       make(map[string]*models.User),
		byUID:       make(map[string]string),
		appeals:     make(map[string]*models.Appeal),
		locks:       newLockTable(),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx services.Tx) error) error {
	tx := &memTx{
		store: s,
		tasks: make(map[string]*models.Task),
		users: make(map[string]*models.User),
		held:  make(map[string]func()),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if _, ok := s.users[task.CreatorID]; !ok {
		return models.Errorf(models.ErrNotFound, "user %s", task.CreatorID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "task %s", id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, f models.TaskFilter) ([]models.Task, error) {
	s.mu.RLock()
	tasks := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if matchesFilter(t, f) {
			tasks = append(tasks, *t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		var cmp int
		if f.SortBy == "reward_amount" {
			cmp = a.Reward.Cmp(b.Reward)
		} else {
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp == 0 {
			return a.ID < b.ID
		}
		if f.SortAsc {
			return cmp < 0
		}
		return cmp > 0
	})
	return tasks, nil
}

func (s *MemoryStore) ListExpiredPendingTasks(ctx context.Context, now time.Time) ([]models.Task, error) {
	s.mu.RLock()
	var tasks []models.Task
	for _, t := range s.tasks {
		if t.Status == models.StatusPending && t.GrabExpiresAt != nil && t.GrabExpiresAt.Before(now) {
			tasks = append(tasks, *t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].GrabExpiresAt.Before(*tasks[j].GrabExpiresAt)
	})
	return tasks, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(id, nil, nil)
}

func (s *MemoryStore) GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUID[uid]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "user %s", uid)
	}
	return s.userLocked(id, nil, nil)
}

func (s *MemoryStore) EnsureUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.FirebaseUID == "" {
		return nil, models.Errorf(models.ErrInvalidInput, "firebase uid is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byUID[user.FirebaseUID]; ok {
		return s.userLocked(id, nil, nil)
	}

	u := *user
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleStudent
	}
	if u.CreditScore == 0 {
		u.CreditScore = models.DefaultCreditScore
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Stats = models.UserStats{}
	s.users[u.ID] = &u
	s.byUID[u.FirebaseUID] = u.ID
	return s.userLocked(u.ID, nil, nil)
}

// userLocked copies the user and derives its stats, preferring staged rows.
// The caller holds s.mu.
func (s *MemoryStore) userLocked(id string, stagedUsers map[string]*models.User, stagedTasks map[string]*models.Task) (*models.User, error) {
	u, ok := stagedUsers[id]
	if !ok {
		if u, ok = s.users[id]; !ok {
			return nil, models.Errorf(models.ErrNotFound, "user %s", id)
		}
	}
	out := *u
	out.Stats = models.UserStats{}
	s.eachTask(stagedTasks, func(t *models.Task) {
		active := !services.IsTerminal(t.Status)
		completed := t.Status == models.StatusCompleted
		if t.AssigneeID == id {
			out.Stats.TotalAssigned++
			if active {
				out.Stats.ActiveAssigned++
			}
			if completed {
				out.Stats.CompletedAssigned++
			}
		}
		if t.CreatorID == id {
			out.Stats.TotalCreated++
			if active {
				out.Stats.ActiveCreated++
			}
			if completed {
				out.Stats.CompletedCreated++
			}
		}
	})
	return &out, nil
}

// eachTask visits committed tasks with staged versions substituted.
func (s *MemoryStore) eachTask(staged map[string]*models.Task, fn func(t *models.Task)) {
	for id, t := range s.tasks {
		if st, ok := staged[id]; ok {
			t = st
		}
		fn(t)
	}
}

func matchesFilter(t *models.Task, f models.TaskFilter) bool {
	if f.Keyword != "" && !containsFold(t.Title, f.Keyword) && !containsFold(t.Description, f.Keyword) {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Urgency != "" && t.Urgency != f.Urgency {
		return false
	}
	if f.MinReward != nil && t.Reward.LessThan(*f.MinReward) {
		return false
	}
	if f.MaxReward != nil && t.Reward.GreaterThan(*f.MaxReward) {
		return false
	}
	if f.PickupLike != "" && !containsFold(t.Pickup.Name, f.PickupLike) {
		return false
	}
	if f.DropoffLike != "" && !containsFold(t.Dropoff.Name, f.DropoffLike) {
		return false
	}
	if f.CreatedSince != nil && t.CreatedAt.Before(*f.CreatedSince) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

type memTx struct {
	store *MemoryStore
	tasks map[string]*models.Task
	users map[string]*models.User
	held  map[string]func()
	order []string
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	release, err := t.store.locks.acquire(ctx, key, t.store.lockTimeout)
	if err != nil {
		return err
	}
	t.held[key] = release
	t.order = append(t.order, key)
	return nil
}

func (t *memTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.held[t.order[i]]()
	}
	t.held = nil
	t.order = nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range t.tasks {
		s.tasks[id] = task
	}
	for id, u := range t.users {
		s.users[id] = u
	}
}

func (t *memTx) GetTaskForUpdate(ctx context.Context, id string) (*models.Task, error) {
	if err := t.lock(ctx, "task:"+id); err != nil {
		return nil, err
	}
	if staged, ok := t.tasks[id]; ok {
		return staged.Clone(), nil
	}
	return t.store.GetTask(ctx, id)
}

func (t *memTx) SaveTask(ctx context.Context, task *models.Task) error {
	if _, ok := t.held["task:"+task.ID]; !ok {
		return fmt.Errorf("task %s saved without holding its lock", task.ID)
	}
	t.tasks[task.ID] = task.Clone()
	return nil
}

func (t *memTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.userLocked(id, t.users, t.tasks)
}

func (t *memTx) GetUserForUpdate(ctx context.Context, id string) (*models.User, error) {
	if err := t.lock(ctx, "user:"+id); err != nil {
		return nil, err
	}
	return t.GetUser(ctx, id)
}

func (t *memTx) SaveUser(ctx context.Context, user *models.User) error {
	if _, ok := t.held["user:"+user.ID]; !ok {
		return fmt.Errorf("user %s saved without holding its lock", user.ID)
	}
	u := *user
	u.Stats = models.UserStats{}
	t.users[user.ID] = &u
	return nil
}

func (t *memTx) RecentClaims(ctx context.Context, userID string, since time.Time) (models.ClaimHistory, error) {
	var h models.ClaimHistory
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	t.store.eachTask(t.tasks, func(task *models.Task) {
		if task.AssigneeID != userID || task.AcceptedAt == nil || task.AcceptedAt.Before(since) {
			return
		}
		h.Claimed++
		if task.Status == models.StatusCancelled {
			h.Cancelled++
		}
	})
	return h, nil
}
