package handlers

import (
	"context"
	"fmt"
	"strings"

	"campus-courier/models"
	"campus-courier/services"
)

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*models.Identity, error)
}

// App carries what the handlers need. Every field is built once in main.
type App struct {
	Tasks       *services.TaskService
	Evaluations *services.EvaluationService
	Appeals     *services.AppealService
	History     services.CreditHistory
	Verifier    TokenVerifier
}

// DevTokenVerifier accepts "uid" or "uid:email:name" as the token itself.
// It is only wired when AUTH_DEV_MODE is on and Firebase is not configured.
type DevTokenVerifier struct{}

func (DevTokenVerifier) VerifyToken(ctx context.Context, token string) (*models.Identity, error) {
	parts := strings.SplitN(token, ":", 3)
	uid := strings.TrimSpace(parts[0])
	if uid == "" {
		return nil, fmt.Errorf("empty dev token")
	}
	id := &models.Identity{UID: uid, Email: uid + "@dev.local", DisplayName: uid}
	if len(parts) > 1 && parts[1] != "" {
		id.Email = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		id.DisplayName = parts[2]
	}
	return id, nil
}
