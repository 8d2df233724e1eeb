package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is the in-process Store used by single-binary deployments and
// tests. Bans live in an expiring cache so a ban lapses without any sweep;
// admin credentials live in a plain map.
type Memory struct {
	bans *gocache.Cache

	mu     sync.Mutex
	admins map[int]AdminRecord
	banSeq int
	admSeq int
	now    func() time.Time
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source for deterministic tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory builds an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		bans:   gocache.New(gocache.NoExpiration, 10*time.Minute),
		admins: make(map[int]AdminRecord),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsBanned scans the active bans for a record matching the pair.
func (m *Memory) IsBanned(_ context.Context, profile, ip string) (bool, time.Duration, error) {
	now := m.now()
	for _, item := range m.bans.Items() {
		record, ok := item.Object.(BanRecord)
		if !ok || record.Expired(now) {
			continue
		}
		if record.matches(profile, ip) {
			return true, record.Remaining(now), nil
		}
	}
	return false, 0, nil
}

// AddBan inserts a ban expiring after the given number of days.
func (m *Memory) AddBan(_ context.Context, profile, ip string, days int, by string) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("ban duration must be positive, got %d days", days)
	}
	m.mu.Lock()
	m.banSeq++
	id := m.banSeq
	m.mu.Unlock()

	record := BanRecord{ID: id, Profile: profile, IP: ip, Since: m.now(), Days: days, By: by}
	m.bans.Set(strconv.Itoa(id), record, time.Duration(days)*24*time.Hour)
	return id, nil
}

// RemoveBan deletes a ban by id.
func (m *Memory) RemoveBan(_ context.Context, id int) error {
	key := strconv.Itoa(id)
	if _, found := m.bans.Get(key); !found {
		return fmt.Errorf("%w: ban %d", ErrRecordNotFound, id)
	}
	m.bans.Delete(key)
	return nil
}

// Bans lists the active bans ordered by id.
func (m *Memory) Bans(_ context.Context) ([]BanRecord, error) {
	now := m.now()
	var records []BanRecord
	for _, item := range m.bans.Items() {
		record, ok := item.Object.(BanRecord)
		if !ok || record.Expired(now) {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// CheckAdmin verifies a credential pair.
func (m *Memory) CheckAdmin(_ context.Context, profile, password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.admins {
		if record.Profile == profile && record.Password == password {
			return true, nil
		}
	}
	return false, nil
}

// AddAdmin inserts a credential, rejecting duplicate profiles.
func (m *Memory) AddAdmin(_ context.Context, profile, password string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.admins {
		if record.Profile == profile {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateAdmin, profile)
		}
	}
	m.admSeq++
	m.admins[m.admSeq] = AdminRecord{ID: m.admSeq, Profile: profile, Password: password}
	return m.admSeq, nil
}

// RemoveAdmin deletes a credential by id.
func (m *Memory) RemoveAdmin(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.admins[id]; !ok {
		return fmt.Errorf("%w: admin %d", ErrRecordNotFound, id)
	}
	delete(m.admins, id)
	return nil
}

// Admins lists the stored credentials ordered by id.
func (m *Memory) Admins(_ context.Context) ([]AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]AdminRecord, 0, len(m.admins))
	for _, record := range m.admins {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// HasAdmins reports whether any credential exists.
func (m *Memory) HasAdmins(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.admins) > 0, nil
}

// ChangePassword replaces the password of an existing profile.
func (m *Memory) ChangePassword(_ context.Context, profile, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.admins {
		if record.Profile == profile {
			record.Password = password
			m.admins[id] = record
			return nil
		}
	}
	return fmt.Errorf("%w: admin profile %q", ErrRecordNotFound, profile)
}

// Close releases nothing; the in-memory store has no external resources.
func (m *Memory) Close() error { return nil }
