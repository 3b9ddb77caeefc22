package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"campus-courier/models"
)

func (a *App) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var input models.CreateTaskInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	task, err := a.Tasks.CreateTask(r.Context(), user.ID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "task created", task)
}

func (a *App) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := a.Tasks.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "task list", tasks)
}

func (a *App) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := a.Tasks.GetTask(r.Context(), mux.Vars(r)["task_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "task info", task)
}

func (a *App) AcceptTaskHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	task, err := a.Tasks.Claim(r.Context(), mux.Vars(r)["task_id"], user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "task accepted", task)
}

func (a *App) UpdateTaskStatusHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var input models.UpdateStatusInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	task, err := a.Tasks.UpdateStatus(r.Context(), mux.Vars(r)["task_id"], input.Status, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "task status updated", task)
}

func (a *App) CancelTaskHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	task, err := a.Tasks.Cancel(r.Context(), mux.Vars(r)["task_id"], user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "task cancelled", task)
}

func parseTaskFilter(r *http.Request, now time.Time) (models.TaskFilter, error) {
	q := r.URL.Query()
	f := models.TaskFilter{
		Keyword:     strings.TrimSpace(q.Get("keyword")),
		Status:      models.TaskStatus(q.Get("status")),
		Category:    models.TaskCategory(q.Get("category")),
		Urgency:     models.TaskUrgency(q.Get("urgency")),
		PickupLike:  strings.TrimSpace(q.Get("pickup_location")),
		DropoffLike: strings.TrimSpace(q.Get("dropoff_location")),
		SortBy:      "created_at",
		SortAsc:     q.Get("sort_order") == "asc",
	}
	if q.Get("sort_by") == "reward_amount" {
		f.SortBy = "reward_amount"
	}

	for name, dst := range map[string]**decimal.Decimal{"min_reward": &f.MinReward, "max_reward": &f.MaxReward} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return f, models.Errorf(models.ErrInvalidInput, "%s must be a number", name)
		}
		*dst = &d
	}

	if since, ok := rangeStart(q.Get("time_range"), now); ok {
		f.CreatedSince = &since
	}
	return f, nil
}

// rangeStart returns the start of today, this week (Monday) or this month.
func rangeStart(timeRange string, now time.Time) (time.Time, bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch timeRange {
	case "today":
		return day, true
	case "week":
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), true
	case "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), true
	}
	return time.Time{}, false
}
