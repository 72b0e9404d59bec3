package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/coregx/courier/model"
)

// UserDirectory implements courier.UserDirectory over a mutable user list.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewUserDirectory creates a directory holding users.
func NewUserDirectory(users ...model.User) *UserDirectory {
	d := &UserDirectory{users: make(map[string]model.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put adds or replaces a user.
func (d *UserDirectory) Put(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// ListActiveVerified returns active users with a verified email, ordered by id.
func (d *UserDirectory) ListActiveVerified(_ context.Context) ([]model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := []model.User{}
	for _, u := range d.users {
		if u.Active && u.EmailVerified {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
