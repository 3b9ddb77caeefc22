package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"campus-courier/models"
)

func (a *App) CreateAppealHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var input models.CreateAppealInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	appeal, err := a.Appeals.Create(r.Context(), user.ID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "appeal created", appeal)
}

func (a *App) MyAppealsHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	appeals, err := a.Appeals.Mine(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "my appeals", appeals)
}

func (a *App) GetAppealHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	appeal, err := a.Appeals.Get(r.Context(), mux.Vars(r)["appeal_id"], user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "appeal info", appeal)
}

// HandleAppealHandler is the admin's answer to an appeal.
func (a *App) HandleAppealHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var input models.HandleAppealInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	appeal, err := a.Appeals.Handle(r.Context(), mux.Vars(r)["appeal_id"], user.ID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "appeal handled", appeal)
}
