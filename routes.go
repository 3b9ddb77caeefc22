package main

import (
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"campus-courier/handlers"
	"campus-courier/utilities"
)

// NewRouter wires every route behind logging and CORS.
func NewRouter(app *handlers.App, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware)

	r.HandleFunc("/healthz", handlers.HealthHandler).Methods("GET")

	// --- Auth ---
	r.HandleFunc("/auth/finalize-login", app.FinalizeFirebaseLoginHandler).Methods("POST")

	// --- Current user ---
	r.HandleFunc("/user/info", app.AuthMiddleware(app.UserHandler)).Methods("GET")
	r.HandleFunc("/user/profile", app.AuthMiddleware(app.UpdateProfileHandler)).Methods("PUT")
	r.HandleFunc("/user/credit-history", app.AuthMiddleware(app.CreditHistoryHandler)).Methods("GET")

	// --- Tasks ---
	r.HandleFunc("/tasks/create", app.AuthMiddleware(app.CreateTaskHandler)).Methods("POST")
	r.HandleFunc("/tasks/list", app.AuthMiddleware(app.ListTasksHandler)).Methods("GET")
	r.HandleFunc("/tasks/info/{task_id}", app.AuthMiddleware(app.GetTaskHandler)).Methods("GET")
	r.HandleFunc("/tasks/{task_id}/accept", app.AuthMiddleware(app.AcceptTaskHandler)).Methods("POST")
	r.HandleFunc("/tasks/{task_id}/status", app.AuthMiddleware(app.UpdateTaskStatusHandler)).Methods("POST")
	r.HandleFunc("/tasks/{task_id}/cancel", app.AuthMiddleware(app.CancelTaskHandler)).Methods("POST")

	// --- Evaluations ---
	r.HandleFunc("/evaluations/submit", app.AuthMiddleware(app.SubmitEvaluationHandler)).Methods("POST")
	r.HandleFunc("/evaluations/user/{user_id}", app.AuthMiddleware(app.UserEvaluationsHandler)).Methods("GET")
	r.HandleFunc("/evaluations/task/{task_id}", app.AuthMiddleware(app.TaskEvaluationsHandler)).Methods("GET")

	// --- Appeals ---
	r.HandleFunc("/appeals/create", app.AuthMiddleware(app.CreateAppealHandler)).Methods("POST")
	r.HandleFunc("/appeals/my", app.AuthMiddleware(app.MyAppealsHandler)).Methods("GET")
	r.HandleFunc("/appeals/{appeal_id}", app.AuthMiddleware(app.GetAppealHandler)).Methods("GET")
	r.HandleFunc("/appeals/{appeal_id}/handle", app.AuthMiddleware(app.HandleAppealHandler)).Methods("PUT")

	headers := gorillahandlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	methods := gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "OPTIONS"})
	origins := gorillahandlers.AllowedOrigins(allowedOrigins)
	utilities.LogInfo("Configuring CORS with allowed origins: %v", allowedOrigins)

	return gorillahandlers.CORS(headers, methods, origins)(r)
}
