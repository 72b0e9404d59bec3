package memory

import (
	"context"
	"sync"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
)

// PreferenceRepository implements courier.PreferenceRepository in memory.
type PreferenceRepository struct {
	mu     sync.RWMutex
	byUser map[string]model.Preference
}

// NewPreferenceRepository creates an empty repository.
func NewPreferenceRepository() *PreferenceRepository {
	return &PreferenceRepository{byUser: make(map[string]model.Preference)}
}

// FindByUserID retrieves the preference row of a user.
func (r *PreferenceRepository) FindByUserID(_ context.Context, userID string) (model.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byUser[userID]
	if !ok {
		return model.Preference{}, courier.ErrNoData
	}
	return p, nil
}

// FindByUserIDs retrieves the preference rows of many users.
func (r *PreferenceRepository) FindByUserIDs(_ context.Context, userIDs []string) (map[string]model.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.Preference, len(userIDs))
	for _, id := range userIDs {
		if p, ok := r.byUser[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Insert stores a new preference row, enforcing one row per user.
func (r *PreferenceRepository) Insert(_ context.Context, p model.Preference) (model.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[p.UserID]; ok {
		return p, courier.ErrDuplicateKey
	}
	r.byUser[p.UserID] = p
	return p, nil
}

// Save updates an existing preference row.
func (r *PreferenceRepository) Save(_ context.Context, p model.Preference) (model.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[p.UserID]; !ok {
		return p, courier.ErrNoData
	}
	r.byUser[p.UserID] = p
	return p, nil
}

// Len returns the number of stored rows.
func (r *PreferenceRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
