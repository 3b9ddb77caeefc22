package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"campus-courier/models"
	"campus-courier/utilities"
)

const defaultHistoryLimit = 50

type SocialLoginInput struct {
	IDToken string `json:"idToken"`
}

// FinalizeFirebaseLoginHandler verifies an ID token from the client and makes
// sure the matching local user exists.
func (a *App) FinalizeFirebaseLoginHandler(w http.ResponseWriter, r *http.Request) {
	var input SocialLoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	if strings.TrimSpace(input.IDToken) == "" {
		writeMessage(w, http.StatusBadRequest, "idToken is required")
		return
	}

	identity, err := a.Verifier.VerifyToken(r.Context(), input.IDToken)
	if err != nil {
		utilities.LogError(err, "Failed to verify ID token")
		writeMessage(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	user, err := a.Tasks.EnsureUser(r.Context(), *identity)
	if err != nil {
		writeError(w, err)
		return
	}
	utilities.LogInfo("User %s (firebase uid %s) logged in", user.ID, user.FirebaseUID)
	writeJSON(w, http.StatusOK, "login finalized", user)
}

// UserHandler returns the caller's profile with the reliability view.
func (a *App) UserHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	profile, err := a.Tasks.UserProfile(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "user info", profile)
}

// UpdateProfileHandler changes the caller's contact details.
func (a *App) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	var input models.UpdateProfileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	updated, err := a.Tasks.UpdateProfile(r.Context(), user.ID, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "profile updated", updated)
}

// CreditHistoryHandler lists the caller's recorded credit changes, newest first.
func (a *App) CreditHistoryHandler(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	changes, err := a.History.ListCreditChanges(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "credit history", changes)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}
