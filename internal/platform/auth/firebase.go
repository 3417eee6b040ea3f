package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/marketlane/api/internal/platform/config"
)

// ErrTokenRevoked is returned when revocation checks are enabled and the user's refresh tokens
// were revoked after the ID token was issued.
var ErrTokenRevoked = errors.New("auth: firebase id token revoked")

type firebaseTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies buyer, seller and admin ID tokens with the Firebase Admin SDK.
type FirebaseVerifier struct {
	client       firebaseTokenClient
	checkRevoked bool
}

func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, checkRevoked: cfg.CheckRevoked}, nil
}

// VerifyIDToken implements TokenVerifier. Revoked and disabled users map to ErrTokenRevoked so
// the middleware answers 401 instead of treating them as verification outages.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	if !v.checkRevoked {
		return v.client.VerifyIDToken(ctx, idToken)
	}
	token, err := v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	if err != nil && (firebaseauth.IsIDTokenRevoked(err) || firebaseauth.IsUserDisabled(err)) {
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	}
	return token, err
}
