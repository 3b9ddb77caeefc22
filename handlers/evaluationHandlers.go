package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"campus-courier/models"
)

func (a *App) SubmitEvaluationHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var input models.CreateEvaluationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	evaluation, err := a.Evaluations.Submit(r.Context(), user.ID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "evaluation submitted", evaluation)
}

// UserEvaluationsHandler returns the ratings a user received and their average.
func (a *App) UserEvaluationsHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := a.Evaluations.UserSummary(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "user evaluations", summary)
}

func (a *App) TaskEvaluationsHandler(w http.ResponseWriter, r *http.Request) {
	evaluations, err := a.Evaluations.TaskEvaluations(r.Context(), mux.Vars(r)["task_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "task evaluations", evaluations)
}
