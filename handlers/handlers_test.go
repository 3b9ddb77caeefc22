package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"campus-courier/database"
	"campus-courier/models"
	"campus-courier/services"
)

type testEnv struct {
	router http.Handler
	store  *database.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := database.NewMemoryStore(time.Second)
	history := database.NewMemoryCreditHistory()
	machine := services.NewStateMachine(nil)
	ledger := services.NewCreditLedger(nil, nil)
	arbiter := services.NewAcceptanceArbiter(store, machine, services.NewEligibilityChecker(ledger), nil)
	app := &App{
		Tasks: services.NewTaskService(services.TaskServiceConfig{
			Repo:      store,
			Machine:   machine,
			Ledger:    ledger,
			Arbiter:   arbiter,
			Recorder:  history,
			Ratings:   store,
			AdminUIDs: []string{"root"},
		}),
		Evaluations: services.NewEvaluationService(store, store, nil),
		Appeals:     services.NewAppealService(store, store, nil),
		History:     history,
		Verifier:    DevTokenVerifier{},
	}

	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	r.HandleFunc("/healthz", HealthHandler).Methods("GET")
	r.HandleFunc("/auth/finalize-login", app.FinalizeFirebaseLoginHandler).Methods("POST")
	r.HandleFunc("/user/info", app.AuthMiddleware(app.UserHandler)).Methods("GET")
	r.HandleFunc("/user/profile", app.AuthMiddleware(app.UpdateProfileHandler)).Methods("PUT")
	r.HandleFunc("/user/credit-history", app.AuthMiddleware(app.CreditHistoryHandler)).Methods("GET")
	r.HandleFunc("/tasks/create", app.AuthMiddleware(app.CreateTaskHandler)).Methods("POST")
	r.HandleFunc("/tasks/list", app.AuthMiddleware(app.ListTasksHandler)).Methods("GET")
	r.HandleFunc("/tasks/info/{task_id}", app.AuthMiddleware(app.GetTaskHandler)).Methods("GET")
	r.HandleFunc("/tasks/{task_id}/accept", app.AuthMiddleware(app.AcceptTaskHandler)).Methods("POST")
	r.HandleFunc("/tasks/{task_id}/status", app.AuthMiddleware(app.UpdateTaskStatusHandler)).Methods("POST")
	r.HandleFunc("/tasks/{task_id}/cancel", app.AuthMiddleware(app.CancelTaskHandler)).Methods("POST")
	r.HandleFunc("/evaluations/submit", app.AuthMiddleware(app.SubmitEvaluationHandler)).Methods("POST")
	r.HandleFunc("/evaluations/user/{user_id}", app.AuthMiddleware(app.UserEvaluationsHandler)).Methods("GET")
	r.HandleFunc("/evaluations/task/{task_id}", app.AuthMiddleware(app.TaskEvaluationsHandler)).Methods("GET")
	r.HandleFunc("/appeals/create", app.AuthMiddleware(app.CreateAppealHandler)).Methods("POST")
	r.HandleFunc("/appeals/my", app.AuthMiddleware(app.MyAppealsHandler)).Methods("GET")
	r.HandleFunc("/appeals/{appeal_id}", app.AuthMiddleware(app.GetAppealHandler)).Methods("GET")
	r.HandleFunc("/appeals/{appeal_id}/handle", app.AuthMiddleware(app.HandleAppealHandler)).Methods("PUT")
	return &testEnv{router: r, store: store}
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, resp
}

func (e *testEnv) createTask(t *testing.T, token string, body map[string]any) models.Task {
	t.Helper()
	rec, resp := e.do(t, "POST", "/tasks/create", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d (%s)", rec.Code, resp.Message)
	}
	var task models.Task
	if err := json.Unmarshal(resp.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task
}

func parcel(reward string) map[string]any {
	return map[string]any{
		"title":                 "Pick up parcel",
		"description":           "Locker 12",
		"pickup_location_name":  "North Gate",
		"dropoff_location_name": "Dorm 7",
		"reward_amount":         reward,
		"category":              "delivery",
		"urgency":               "medium",
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, "GET", "/healthz", "", nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("healthz = %d %+v", rec.Code, resp)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, "GET", "/user/info", "", nil)
	if rec.Code != http.StatusUnauthorized || resp.Success {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFinalizeLogin(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, "POST", "/auth/finalize-login", "", map[string]string{"idToken": "alice:alice@campus.edu:Alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, resp.Message)
	}
	var user models.User
	json.Unmarshal(resp.Data, &user)
	if user.FirebaseUID != "alice" || user.Email != "alice@campus.edu" || user.CreditScore != models.DefaultCreditScore {
		t.Fatalf("unexpected user %+v", user)
	}

	rec, _ = env.do(t, "POST", "/auth/finalize-login", "", map[string]string{"idToken": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty token status = %d", rec.Code)
	}
}

func TestTaskFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "alice", parcel("10"))
	if task.Status != models.StatusPending || task.GrabExpiresAt == nil {
		t.Fatalf("created task %+v", task)
	}

	rec, resp := env.do(t, "POST", "/tasks/"+task.ID+"/accept", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d (%s)", rec.Code, resp.Message)
	}

	rec, _ = env.do(t, "POST", "/tasks/"+task.ID+"/accept", "carol", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second accept: %d", rec.Code)
	}

	rec, _ = env.do(t, "POST", "/tasks/"+task.ID+"/cancel", "carol", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger cancel: %d", rec.Code)
	}

	rec, _ = env.do(t, "POST", "/tasks/"+task.ID+"/status", "bob", map[string]string{"status": "confirming"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("illegal transition: %d", rec.Code)
	}

	for _, step := range []struct{ token, status string }{
		{"bob", "picked"}, {"bob", "delivering"}, {"bob", "confirming"}, {"alice", "completed"},
	} {
		rec, resp := env.do(t, "POST", "/tasks/"+task.ID+"/status", step.token, map[string]string{"status": step.status})
		if rec.Code != http.StatusOK {
			t.Fatalf("status %s: %d (%s)", step.status, rec.Code, resp.Message)
		}
	}

	rec, resp = env.do(t, "GET", "/user/credit-history", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("credit history: %d", rec.Code)
	}
	var changes []models.CreditChange
	json.Unmarshal(resp.Data, &changes)
	if len(changes) != 1 || changes[0].Delta != 0.2 || changes[0].After != 3.7 {
		t.Fatalf("bob's history = %+v", changes)
	}

	rec, resp = env.do(t, "GET", "/user/info", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user info: %d", rec.Code)
	}
	var profile services.UserProfile
	json.Unmarshal(resp.Data, &profile)
	if profile.User.CreditScore != 3.6 || profile.Reliability.PublishCompletionRate != 1 {
		t.Fatalf("alice's profile = %+v / %+v", profile.User, profile.Reliability)
	}
}

func TestIneligibleClaimReturnsReason(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "alice", parcel("25"))

	// Seed a low-score user directly.
	if _, err := env.store.EnsureUser(t.Context(), &models.User{FirebaseUID: "dave", CreditScore: 1.8}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	rec, resp := env.do(t, "POST", "/tasks/"+task.ID+"/accept", "dave", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d (%s)", rec.Code, resp.Message)
	}
	var body ineligibleBody
	json.Unmarshal(resp.Data, &body)
	if body.Reason != "insufficient credit score (required 2.5, current 1.8)" || body.Confidence != 0.9 {
		t.Fatalf("body = %+v", body)
	}
}

func TestGetAndListTasks(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "alice", parcel("10"))
	cheap := parcel("2")
	cheap["title"] = "Coffee"
	env.createTask(t, "alice", cheap)

	rec, _ := env.do(t, "GET", "/tasks/info/"+task.ID, "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info: %d", rec.Code)
	}
	rec, _ = env.do(t, "GET", "/tasks/info/missing", "bob", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing info: %d", rec.Code)
	}

	rec, resp := env.do(t, "GET", "/tasks/list?min_reward=5&time_range=today&sort_by=reward_amount&sort_order=asc", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d (%s)", rec.Code, resp.Message)
	}
	var tasks []models.Task
	json.Unmarshal(resp.Data, &tasks)
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("filtered list = %+v", tasks)
	}

	rec, _ = env.do(t, "GET", "/tasks/list?min_reward=abc", "bob", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad min_reward: %d", rec.Code)
	}
	rec, _ = env.do(t, "GET", "/tasks/list?status=lost", "bob", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: %d", rec.Code)
	}
}

func TestCreateTaskValidationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	body := parcel("0")
	rec, _ := env.do(t, "POST", "/tasks/create", "alice", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero reward: %d", rec.Code)
	}
}

func TestWriteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.Errorf(models.ErrNotFound, "x"), http.StatusNotFound},
		{models.Errorf(models.ErrUnauthorized, "x"), http.StatusForbidden},
		{models.Errorf(models.ErrIllegalTransition, "x"), http.StatusBadRequest},
		{models.Errorf(models.ErrInvalidInput, "x"), http.StatusBadRequest},
		{models.Errorf(models.ErrNotClaimable, "x"), http.StatusConflict},
		{models.Errorf(models.ErrAlreadyExists, "x"), http.StatusConflict},
		{models.Errorf(models.ErrClaimWindowExpired, "x"), http.StatusGone},
		{&models.IneligibleError{Reason: "r", Confidence: 0.7}, http.StatusUnprocessableEntity},
		{models.Errorf(models.ErrConcurrencyConflict, "x"), http.StatusServiceUnavailable},
		{errors.New("db exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.want {
			t.Errorf("writeError(%v) = %d, want %d", tc.err, rec.Code, tc.want)
		}
		if tc.want == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
			t.Errorf("missing Retry-After on conflict")
		}
	}
}

func TestRangeStart(t *testing.T) {
	now := time.Date(2025, 3, 6, 15, 30, 0, 0, time.UTC) // Thursday
	cases := map[string]time.Time{
		"today": time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC),
		"week":  time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		"month": time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := rangeStart(in, now)
		if !ok || !got.Equal(want) {
			t.Errorf("rangeStart(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := rangeStart("year", now); ok {
		t.Error("unknown range accepted")
	}
}

func TestDevTokenVerifier(t *testing.T) {
	id, err := DevTokenVerifier{}.VerifyToken(t.Context(), "bob")
	if err != nil || id.UID != "bob" || id.Email != "bob@dev.local" {
		t.Fatalf("VerifyToken = %+v, %v", id, err)
	}
	if _, err := (DevTokenVerifier{}).VerifyToken(t.Context(), ":x"); err == nil {
		t.Fatal("empty uid accepted")
	}
}

// completeTask takes a task created by creator through delivery by assignee.
func (e *testEnv) completeTask(t *testing.T, creator, assignee string) models.Task {
	t.Helper()
	task := e.createTask(t, creator, parcel("5"))
	if rec, resp := e.do(t, "POST", "/tasks/"+task.ID+"/accept", assignee, nil); rec.Code != http.StatusOK {
		t.Fatalf("accept: %d (%s)", rec.Code, resp.Message)
	}
	for _, step := range []struct{ status, token string }{
		{"picked", assignee}, {"delivering", assignee}, {"confirming", assignee}, {"completed", creator},
	} {
		rec, resp := e.do(t, "POST", "/tasks/"+task.ID+"/status", step.token, map[string]string{"status": step.status})
		if rec.Code != http.StatusOK {
			t.Fatalf("status %s: %d (%s)", step.status, rec.Code, resp.Message)
		}
	}
	return task
}

func (e *testEnv) userID(t *testing.T, token string) string {
	t.Helper()
	_, resp := e.do(t, "GET", "/user/info", token, nil)
	var p struct {
		User models.User `json:"user"`
	}
	if err := json.Unmarshal(resp.Data, &p); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	return p.User.ID
}

func TestEvaluationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	task := env.completeTask(t, "alice", "bob")
	bobID := env.userID(t, "bob")

	rec, resp := env.do(t, "POST", "/evaluations/submit", "alice", map[string]any{"task_id": task.ID, "score": 4, "comment": "on time"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: %d (%s)", rec.Code, resp.Message)
	}
	rec, _ = env.do(t, "POST", "/evaluations/submit", "alice", map[string]any{"task_id": task.ID, "score": 5})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate submit: %d", rec.Code)
	}
	rec, _ = env.do(t, "POST", "/evaluations/submit", "carol", map[string]any{"task_id": task.ID, "score": 5})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider submit: %d", rec.Code)
	}
	rec, _ = env.do(t, "POST", "/evaluations/submit", "bob", map[string]any{"task_id": task.ID, "score": 9})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range score: %d", rec.Code)
	}

	rec, resp = env.do(t, "GET", "/evaluations/user/"+bobID, "carol", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user summary: %d (%s)", rec.Code, resp.Message)
	}
	var summary models.EvaluationSummary
	json.Unmarshal(resp.Data, &summary)
	if summary.AverageScore != 4 || summary.TotalEvaluations != 1 || summary.Evaluations[0].Comment != "on time" {
		t.Fatalf("summary = %+v", summary)
	}

	rec, resp = env.do(t, "GET", "/evaluations/task/"+task.ID, "carol", nil)
	var list []models.Evaluation
	json.Unmarshal(resp.Data, &list)
	if rec.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("task evaluations: %d %+v", rec.Code, list)
	}
	if rec, _ := env.do(t, "GET", "/evaluations/task/missing", "carol", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing task: %d", rec.Code)
	}

	_, resp = env.do(t, "GET", "/user/info", "bob", nil)
	var profile struct {
		Reliability models.Reliability `json:"reliability"`
	}
	json.Unmarshal(resp.Data, &profile)
	if profile.Reliability.AverageRating != 4 || profile.Reliability.TotalRatings != 1 {
		t.Fatalf("reliability = %+v", profile.Reliability)
	}
}

func TestAppealEndpoints(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "alice", parcel("5"))

	rec, resp := env.do(t, "POST", "/appeals/create", "alice", map[string]string{"task_id": task.ID, "reason": "nobody picks it up"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d (%s)", rec.Code, resp.Message)
	}
	var appeal models.Appeal
	json.Unmarshal(resp.Data, &appeal)
	if appeal.Status != models.AppealPending {
		t.Fatalf("appeal = %+v", appeal)
	}

	// "my" must not be captured by the {appeal_id} route.
	rec, resp = env.do(t, "GET", "/appeals/my", "alice", nil)
	var mine []models.Appeal
	json.Unmarshal(resp.Data, &mine)
	if rec.Code != http.StatusOK || len(mine) != 1 || mine[0].ID != appeal.ID {
		t.Fatalf("my appeals: %d %+v", rec.Code, mine)
	}

	if rec, _ := env.do(t, "GET", "/appeals/"+appeal.ID, "bob", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("stranger read: %d", rec.Code)
	}
	if rec, _ := env.do(t, "GET", "/appeals/"+appeal.ID, "root", nil); rec.Code != http.StatusOK {
		t.Fatalf("admin read: %d", rec.Code)
	}

	handle := map[string]string{"status": "rejected", "admin_reply": "wait longer"}
	if rec, _ := env.do(t, "PUT", "/appeals/"+appeal.ID+"/handle", "alice", handle); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin handle: %d", rec.Code)
	}
	rec, resp = env.do(t, "PUT", "/appeals/"+appeal.ID+"/handle", "root", handle)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin handle: %d (%s)", rec.Code, resp.Message)
	}
	if rec, _ := env.do(t, "PUT", "/appeals/"+appeal.ID+"/handle", "root", handle); rec.Code != http.StatusBadRequest {
		t.Fatalf("handling a closed appeal: %d", rec.Code)
	}

	rec, resp = env.do(t, "GET", "/appeals/"+appeal.ID, "alice", nil)
	json.Unmarshal(resp.Data, &appeal)
	if rec.Code != http.StatusOK || appeal.Status != models.AppealRejected || appeal.AdminReply != "wait longer" {
		t.Fatalf("after handling: %d %+v", rec.Code, appeal)
	}
}

func TestUpdateProfileEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, "PUT", "/user/profile", "alice", map[string]string{"phone": "13800000000", "campus": "Minhang"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d (%s)", rec.Code, resp.Message)
	}
	var user models.User
	json.Unmarshal(resp.Data, &user)
	if user.Phone != "13800000000" || user.Campus != "Minhang" || user.DisplayName != "alice" {
		t.Fatalf("user = %+v", user)
	}
	if rec, _ := env.do(t, "PUT", "/user/profile", "alice", map[string]string{"display_name": ""}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name: %d", rec.Code)
	}
}
