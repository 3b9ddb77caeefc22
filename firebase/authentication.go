package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"

	"campus-courier/models"
)

// AuthVerifier checks Firebase ID tokens.
type AuthVerifier struct {
	client *auth.Client
}

func (v *AuthVerifier) VerifyToken(ctx context.Context, idToken string) (*models.Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	return identityFromToken(token), nil
}

func identityFromToken(token *auth.Token) *models.Identity {
	email, _ := token.Claims["email"].(string)
	name, _ := token.Claims["name"].(string)
	return &models.Identity{UID: token.UID, Email: email, DisplayName: name}
}
