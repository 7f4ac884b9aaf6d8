// Package identity defines how the SSO server looks up the users it
// authenticates. The workspace backend owns the user records; the server
// only reads them through Directory.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUserNotFound is returned by a Directory for an unknown user id.
var ErrUserNotFound = errors.New("user not found")

// UserInfo is the profile of an authenticated user as the directory knows it.
type UserInfo struct {
	// ID is the stable subject identifier.
	ID string

	Email string

	// EmailVerified is nil when the directory makes no claim about the
	// address. Only a non-nil value is ever surfaced to relying parties.
	EmailVerified *bool

	Name              string
	PreferredUsername string
}

// Directory resolves user ids to profiles.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (*UserInfo, error)
}

// Bool returns a pointer to v, for filling UserInfo.EmailVerified.
func Bool(v bool) *bool {
	return &v
}

// StaticDirectory is an in-memory Directory, filled at startup from
// configuration or by tests.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]*UserInfo
}

// NewStaticDirectory creates a directory holding users.
func NewStaticDirectory(users ...*UserInfo) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]*UserInfo, len(users))}
	for _, u := range users {
		d.Add(u)
	}
	return d
}

// Add inserts or replaces a user.
func (d *StaticDirectory) Add(user *UserInfo) {
	if user == nil || user.ID == "" {
		return
	}
	cp := *user
	d.mu.Lock()
	d.users[user.ID] = &cp
	d.mu.Unlock()
}

// LookupUser implements Directory.
func (d *StaticDirectory) LookupUser(_ context.Context, userID string) (*UserInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// Remove deletes a user. Tokens already issued to them stop refreshing.
func (d *StaticDirectory) Remove(userID string) {
	d.mu.Lock()
	delete(d.users, userID)
	d.mu.Unlock()
}
