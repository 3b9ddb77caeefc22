package services

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"campus-courier/models"
	"campus-courier/utilities"
)

const (
	maxTitleLength       = 120
	maxDisplayNameLength = 50
	maxPhoneLength       = 20
	maxCampusLength      = 100
)

// TaskService is the task API used by the request layer. Claims are delegated
// to the AcceptanceArbiter.
type TaskService struct {
	arbiter    *AcceptanceArbiter
	repo       Repository
	machine    *StateMachine
	ledger     *CreditLedger
	geocoder   Geocoder
	recorder   CreditRecorder
	ratings    RatingSource
	admins     map[string]bool
	grabWindow time.Duration
	attempts   int
	backoff    time.Duration
	now        func() time.Time
}

type TaskServiceConfig struct {
	Repo       Repository
	Machine    *StateMachine
	Ledger     *CreditLedger
	Arbiter    *AcceptanceArbiter
	Geocoder   Geocoder       // optional
	Recorder   CreditRecorder // optional
	Ratings    RatingSource   // optional
	AdminUIDs  []string       // Firebase uids promoted to admin on login
	GrabWindow time.Duration
	Now        func() time.Time
}

func NewTaskService(cfg TaskServiceConfig) *TaskService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.GrabWindow <= 0 {
		cfg.GrabWindow = time.Hour
	}
	admins := make(map[string]bool, len(cfg.AdminUIDs))
	for _, uid := range cfg.AdminUIDs {
		admins[uid] = true
	}
	return &TaskService{
		arbiter:    cfg.Arbiter,
		repo:       cfg.Repo,
		machine:    cfg.Machine,
		ledger:     cfg.Ledger,
		geocoder:   cfg.Geocoder,
		recorder:   cfg.Recorder,
		ratings:    cfg.Ratings,
		admins:     admins,
		grabWindow: cfg.GrabWindow,
		attempts:   defaultConflictAttempts,
		backoff:    defaultConflictBackoff,
		now:        cfg.Now,
	}
}

func (s *TaskService) Claim(ctx context.Context, taskID, userID string) (*models.Task, error) {
	return s.arbiter.Claim(ctx, taskID, userID)
}

func (s *TaskService) CreateTask(ctx context.Context, creatorID string, in models.CreateTaskInput) (*models.Task, error) {
	if err := validateCreateInput(&in); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUser(ctx, creatorID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := &models.Task{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Pickup:      models.Location{Name: strings.TrimSpace(in.PickupName), Coords: coords(in.PickupLat, in.PickupLng)},
		Dropoff:     models.Location{Name: strings.TrimSpace(in.DropoffName), Coords: coords(in.DropoffLat, in.DropoffLng)},
		Reward:      in.Reward,
		Category:    in.Category,
		Urgency:     in.Urgency,
		Status:      models.StatusPending,
		CreatorID:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.GrabExpiresAt != nil {
		deadline := in.GrabExpiresAt.UTC()
		task.GrabExpiresAt = &deadline
	} else {
		deadline := now.Add(s.grabWindow)
		task.GrabExpiresAt = &deadline
	}

	s.fillCoordinates(ctx, &task.Pickup)
	s.fillCoordinates(ctx, &task.Dropoff)

	if err := s.repo.CreateTask(ctx, task); err != nil {
		utilities.LogError(err, "CreateTask: failed to persist task")
		return nil, err
	}
	utilities.LogInfo("Task created: %s (ID: %s) by %s", task.Title, task.ID, creatorID)
	return task, nil
}

// fillCoordinates asks the geocoder only when the location has none; failures never block creation.
func (s *TaskService) fillCoordinates(ctx context.Context, loc *models.Location) {
	if loc.Coords != nil || s.geocoder == nil {
		return
	}
	c, err := s.geocoder.Geocode(ctx, loc.Name)
	if err != nil {
		utilities.LogWarn("geocoding %q failed: %v", loc.Name, err)
		return
	}
	loc.Coords = c
}

func (s *TaskService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.repo.GetTask(ctx, id)
}

func (s *TaskService) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, models.Errorf(models.ErrInvalidInput, "unknown status %q", filter.Status)
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, models.Errorf(models.ErrInvalidInput, "unknown category %q", filter.Category)
	}
	if filter.Urgency != "" && !filter.Urgency.Valid() {
		return nil, models.Errorf(models.ErrInvalidInput, "unknown urgency %q", filter.Urgency)
	}
	return s.repo.ListTasks(ctx, filter)
}

// UpdateStatus moves a task to target on behalf of actorID and settles credit on
// terminal states in the same transaction.
func (s *TaskService) UpdateStatus(ctx context.Context, taskID string, target models.TaskStatus, actorID string) (*models.Task, error) {
	if !target.Valid() {
		return nil, models.Errorf(models.ErrInvalidInput, "unknown status %q", target)
	}

	var (
		updated *models.Task
		changes []models.CreditChange
	)
	err := retryOnConflict(ctx, s.attempts, s.backoff, func() error {
		changes = nil
		return s.repo.InTx(ctx, func(tx Tx) error {
			task, err := tx.GetTaskForUpdate(ctx, taskID)
			if err != nil {
				return err
			}
			from := task.Status
			if err := s.machine.Transition(task, target, UserActor(actorID)); err != nil {
				return err
			}
			if IsTerminal(task.Status) {
				if changes, err = settleInTx(ctx, tx, s.ledger, task); err != nil {
					return err
				}
			}
			if err := tx.SaveTask(ctx, task); err != nil {
				return err
			}
			utilities.LogInfo("Task %s moved %s -> %s by %s", task.ID, from, task.Status, actorID)
			updated = task
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	recordChanges(ctx, s.recorder, changes)
	return updated, nil
}

func (s *TaskService) Cancel(ctx context.Context, taskID, actorID string) (*models.Task, error) {
	return s.UpdateStatus(ctx, taskID, models.StatusCancelled, actorID)
}

// UserProfile is a user with the derived reliability view.
type UserProfile struct {
	User        *models.User       `json:"user"`
	Reliability models.Reliability `json:"reliability"`
	MaxActive   int                `json:"max_active_tasks"`
}

func (s *TaskService) UserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	reliability := s.ledger.AssessReliability(user)
	if s.ratings != nil {
		avg, n, err := s.ratings.RatingSummary(ctx, userID)
		if err != nil {
			return nil, err
		}
		reliability.AverageRating, reliability.TotalRatings = avg, n
	}
	return &UserProfile{
		User:        user,
		Reliability: reliability,
		MaxActive:   MaxActiveTasks(user.CreditScore),
	}, nil
}

// UpdateProfile changes the contact fields present in in. The credit score and
// role are not editable here.
func (s *TaskService) UpdateProfile(ctx context.Context, userID string, in models.UpdateProfileInput) (*models.User, error) {
	if err := normalizeProfileInput(&in); err != nil {
		return nil, err
	}
	var updated *models.User
	err := retryOnConflict(ctx, s.attempts, s.backoff, func() error {
		return s.repo.InTx(ctx, func(tx Tx) error {
			user, err := tx.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if in.DisplayName != nil {
				user.DisplayName = *in.DisplayName
			}
			if in.Phone != nil {
				user.Phone = *in.Phone
			}
			if in.Campus != nil {
				user.Campus = *in.Campus
			}
			if err := tx.SaveUser(ctx, user); err != nil {
				return err
			}
			updated = user
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	utilities.LogInfo("User %s updated their profile", userID)
	return updated, nil
}

// EnsureUser maps a verified identity to its local user, creating it on first
// login. Configured admin uids are promoted if they are not admins yet.
func (s *TaskService) EnsureUser(ctx context.Context, id models.Identity) (*models.User, error) {
	role := models.RoleStudent
	if s.admins[id.UID] {
		role = models.RoleAdmin
	}
	user, err := s.repo.EnsureUser(ctx, &models.User{
		FirebaseUID: id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Role:        role,
	})
	if err != nil || role != models.RoleAdmin || user.IsAdmin() {
		return user, err
	}

	err = retryOnConflict(ctx, s.attempts, s.backoff, func() error {
		return s.repo.InTx(ctx, func(tx Tx) error {
			locked, err := tx.GetUserForUpdate(ctx, user.ID)
			if err != nil {
				return err
			}
			locked.Role = models.RoleAdmin
			if err := tx.SaveUser(ctx, locked); err != nil {
				return err
			}
			user = locked
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	utilities.LogInfo("User %s promoted to admin", user.ID)
	return user, nil
}

// settleInTx locks the affected parties in ascending id order, applies the
// ledger and saves them.
func settleInTx(ctx context.Context, tx Tx, ledger *CreditLedger, task *models.Task) ([]models.CreditChange, error) {
	wantCreator, wantAssignee := SettlementParties(task)
	ids := make([]string, 0, 2)
	if wantCreator {
		ids = append(ids, task.CreatorID)
	}
	if wantAssignee {
		ids = append(ids, task.AssigneeID)
	}
	sort.Strings(ids)

	locked := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		u, err := tx.GetUserForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = u
	}

	var parties Parties
	if wantCreator {
		parties.Creator = locked[task.CreatorID]
	}
	if wantAssignee {
		parties.Assignee = locked[task.AssigneeID]
	}
	changes := ledger.Settle(task, parties)
	for _, id := range ids {
		if err := tx.SaveUser(ctx, locked[id]); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

func recordChanges(ctx context.Context, recorder CreditRecorder, changes []models.CreditChange) {
	if len(changes) == 0 || recorder == nil {
		return
	}
	if err := recorder.RecordCreditChanges(ctx, changes); err != nil {
		utilities.LogError(err, "failed to record credit history")
	}
}

func validateCreateInput(in *models.CreateTaskInput) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return models.Errorf(models.ErrInvalidInput, "title is required")
	case len(strings.TrimSpace(in.Title)) > maxTitleLength:
		return models.Errorf(models.ErrInvalidInput, "title longer than %d characters", maxTitleLength)
	case strings.TrimSpace(in.Description) == "":
		return models.Errorf(models.ErrInvalidInput, "description is required")
	case strings.TrimSpace(in.PickupName) == "":
		return models.Errorf(models.ErrInvalidInput, "pickup location is required")
	case strings.TrimSpace(in.DropoffName) == "":
		return models.Errorf(models.ErrInvalidInput, "dropoff location is required")
	case !in.Reward.IsPositive():
		return models.Errorf(models.ErrInvalidInput, "reward must be positive")
	}
	if in.Category == "" {
		in.Category = models.CategoryOther
	}
	if in.Urgency == "" {
		in.Urgency = models.UrgencyMedium
	}
	if !in.Category.Valid() {
		return models.Errorf(models.ErrInvalidInput, "unknown category %q", in.Category)
	}
	if !in.Urgency.Valid() {
		return models.Errorf(models.ErrInvalidInput, "unknown urgency %q", in.Urgency)
	}
	return nil
}

func normalizeProfileInput(in *models.UpdateProfileInput) error {
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		switch {
		case name == "":
			return models.Errorf(models.ErrInvalidInput, "display_name cannot be empty")
		case utf8.RuneCountInString(name) > maxDisplayNameLength:
			return models.Errorf(models.ErrInvalidInput, "display_name longer than %d characters", maxDisplayNameLength)
		}
		in.DisplayName = &name
	}
	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		if len(phone) > maxPhoneLength {
			return models.Errorf(models.ErrInvalidInput, "phone longer than %d characters", maxPhoneLength)
		}
		for _, r := range phone {
			if (r < '0' || r > '9') && !strings.ContainsRune("+- ", r) {
				return models.Errorf(models.ErrInvalidInput, "phone may only contain digits, spaces, + and -")
			}
		}
		in.Phone = &phone
	}
	if in.Campus != nil {
		campus := strings.TrimSpace(*in.Campus)
		if utf8.RuneCountInString(campus) > maxCampusLength {
			return models.Errorf(models.ErrInvalidInput, "campus longer than %d characters", maxCampusLength)
		}
		in.Campus = &campus
	}
	return nil
}

func coords(lat, lng *float64) *models.Coordinates {
	if lat == nil || lng == nil {
		return nil
	}
	return &models.Coordinates{Lat: *lat, Lng: *lng}
}
