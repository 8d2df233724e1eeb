// Package store persists ban and admin-credential records. The server core
// never assumes exclusive access: implementations are safe for concurrent
// use by their own contract.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound is returned when a numeric id resolves to nothing.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateAdmin is returned when a profile already holds admin rights.
	ErrDuplicateAdmin = errors.New("admin already exists")
)

// Wildcard matches any profile or any IP in a ban record.
const Wildcard = "*"

// BanRecord bans a (profile, ip) pair; either side may be the wildcard.
type BanRecord struct {
	ID      int       `msgpack:"id"`
	Profile string    `msgpack:"profile"`
	IP      string    `msgpack:"ip"`
	Since   time.Time `msgpack:"since"`
	Days    int       `msgpack:"days"`
	// By is the admin profile that issued the ban.
	By string `msgpack:"by"`
}

// Expired reports whether the ban has run out at time now.
func (b BanRecord) Expired(now time.Time) bool {
	return now.After(b.Since.Add(time.Duration(b.Days) * 24 * time.Hour))
}

// Remaining returns how long the ban still holds at time now.
func (b BanRecord) Remaining(now time.Time) time.Duration {
	remaining := b.Since.Add(time.Duration(b.Days) * 24 * time.Hour).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// matches reports whether the record applies to the (profile, ip) pair.
func (b BanRecord) matches(profile, ip string) bool {
	if b.Profile != Wildcard && b.Profile != profile {
		return false
	}
	if b.IP != Wildcard && b.IP != ip {
		return false
	}
	return true
}

// AdminRecord is one console credential.
type AdminRecord struct {
	ID       int    `msgpack:"id"`
	Profile  string `msgpack:"profile"`
	Password string `msgpack:"password"`
}

// Store is the persisted record API consumed by the server core.
type Store interface {
	// IsBanned reports whether the pair matches an active ban and, if so,
	// how long the ban still holds.
	IsBanned(ctx context.Context, profile, ip string) (bool, time.Duration, error)
	// AddBan inserts a ban and returns its id.
	AddBan(ctx context.Context, profile, ip string, days int, by string) (int, error)
	// RemoveBan deletes a ban by id.
	RemoveBan(ctx context.Context, id int) error
	// Bans lists the active bans.
	Bans(ctx context.Context) ([]BanRecord, error)

	// CheckAdmin verifies a (profile, password) credential.
	CheckAdmin(ctx context.Context, profile, password string) (bool, error)
	// AddAdmin inserts a credential and returns its id.
	AddAdmin(ctx context.Context, profile, password string) (int, error)
	// RemoveAdmin deletes a credential by id.
	RemoveAdmin(ctx context.Context, id int) error
	// Admins lists the stored credentials.
	Admins(ctx context.Context) ([]AdminRecord, error)
	// HasAdmins reports whether any credential exists at all.
	HasAdmins(ctx context.Context) (bool, error)
	// ChangePassword replaces the password of an existing admin profile.
	ChangePassword(ctx context.Context, profile, password string) error

	Close() error
}
