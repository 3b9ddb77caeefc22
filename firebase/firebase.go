package firebase

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"campus-courier/utilities"
)

// InitializeFirebase creates the Firebase app from a service account file.
func InitializeFirebase(ctx context.Context, credentialsPath string) (*firebase.App, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("FIREBASE_CREDENTIALS_PATH is not set")
	}

	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase: %w", err)
	}

	utilities.LogInfo("Firebase initialized from %s", credentialsPath)
	return app, nil
}

// NewAuthVerifier returns a verifier backed by the app's Auth client.
func NewAuthVerifier(ctx context.Context, app *firebase.App) (*AuthVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Auth client: %w", err)
	}
	return &AuthVerifier{client: client}, nil
}

// GetFirestoreClient returns the app's Firestore client. The caller closes it.
func GetFirestoreClient(ctx context.Context, app *firebase.App) (*firestore.Client, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}
	return client, nil
}
