package courier

import (
	"context"
	"fmt"

	"github.com/coregx/courier/model"
)

// SessionProvider identifies the signed-in user of a request.
// Authentication itself happens upstream; the engine only consumes its result.
type SessionProvider interface {
	// UserID returns the current user's id, or an UNAUTHENTICATED error.
	UserID(ctx context.Context) (string, error)
}

type userIDKey struct{}

// ContextWithUserID stores a user id for ContextSessionProvider.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// ContextSessionProvider reads the user id stored by ContextWithUserID.
type ContextSessionProvider struct{}

// UserID implements SessionProvider.
func (ContextSessionProvider) UserID(ctx context.Context) (string, error) {
	if id, ok := ctx.Value(userIDKey{}).(string); ok && id != "" {
		return id, nil
	}
	return "", NewError(ErrCodeUnauthenticated, "no user session")
}

// PreferenceCenter lets the signed-in user read and change their own consent flags.
type PreferenceCenter struct {
	consent  *ConsentStore
	sessions SessionProvider
}

// NewPreferenceCenter creates a preference center. A nil provider means
// ContextSessionProvider.
func NewPreferenceCenter(consent *ConsentStore, sessions SessionProvider) (*PreferenceCenter, error) {
	if consent == nil {
		return nil, NewError(ErrCodeConfiguration, "ConsentStore is required")
	}
	if sessions == nil {
		sessions = ContextSessionProvider{}
	}
	return &PreferenceCenter{consent: consent, sessions: sessions}, nil
}

// Get returns the current user's preferences, creating the defaults on first access.
func (pc *PreferenceCenter) Get(ctx context.Context) (model.Preference, error) {
	userID, err := pc.sessions.UserID(ctx)
	if err != nil {
		return model.Preference{}, err
	}
	return pc.consent.GetOrCreatePreference(ctx, userID)
}

// Update applies a partial flag update for the current user.
func (pc *PreferenceCenter) Update(ctx context.Context, flags model.PreferenceFlags) (model.Preference, error) {
	userID, err := pc.sessions.UserID(ctx)
	if err != nil {
		return model.Preference{}, err
	}
	pref, err := pc.consent.UpdatePreference(ctx, userID, flags)
	if err != nil {
		return pref, fmt.Errorf("update preferences of %s: %w", userID, err)
	}
	return pref, nil
}
