package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	banKeyPrefix   = "gameserver:ban:"
	adminKeyPrefix = "gameserver:admin:"
	banSeqKey      = "gameserver:seq:ban"
	adminSeqKey    = "gameserver:seq:admin"
)

// Redis is the shared Store used when several processes must see the same
// bans and admins. Records are msgpack-encoded; ban keys carry a TTL so
// expiry needs no sweep.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedis connects to the given redis instance and verifies the link.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect record store: %w", err)
	}
	return &Redis{client: client, now: time.Now}, nil
}

func banKey(id int) string { return fmt.Sprintf("%s%d", banKeyPrefix, id) }

func adminKey(profile string) string { return adminKeyPrefix + profile }

// IsBanned scans active bans for a record matching the pair.
func (r *Redis) IsBanned(ctx context.Context, profile, ip string) (bool, time.Duration, error) {
	records, err := r.Bans(ctx)
	if err != nil {
		return false, 0, err
	}
	now := r.now()
	for _, record := range records {
		if record.matches(profile, ip) {
			return true, record.Remaining(now), nil
		}
	}
	return false, 0, nil
}

// AddBan inserts a ban with a TTL covering its whole duration.
func (r *Redis) AddBan(ctx context.Context, profile, ip string, days int, by string) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("ban duration must be positive, got %d days", days)
	}
	id64, err := r.client.Incr(ctx, banSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate ban id: %w", err)
	}
	id := int(id64)
	record := BanRecord{ID: id, Profile: profile, IP: ip, Since: r.now(), Days: days, By: by}
	raw, err := msgpack.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encode ban record: %w", err)
	}
	ttl := time.Duration(days) * 24 * time.Hour
	if err := r.client.Set(ctx, banKey(id), raw, ttl).Err(); err != nil {
		return 0, fmt.Errorf("store ban record: %w", err)
	}
	return id, nil
}

// RemoveBan deletes a ban by id.
func (r *Redis) RemoveBan(ctx context.Context, id int) error {
	removed, err := r.client.Del(ctx, banKey(id)).Result()
	if err != nil {
		return fmt.Errorf("remove ban record: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: ban %d", ErrRecordNotFound, id)
	}
	return nil
}

// Bans lists the active bans ordered by id.
func (r *Redis) Bans(ctx context.Context) ([]BanRecord, error) {
	keys, err := r.scanKeys(ctx, banKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var records []BanRecord
	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read ban record: %w", err)
		}
		var record BanRecord
		if err := msgpack.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("decode ban record: %w", err)
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// CheckAdmin verifies a credential pair.
func (r *Redis) CheckAdmin(ctx context.Context, profile, password string) (bool, error) {
	record, err := r.admin(ctx, profile)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Password == password, nil
}

// AddAdmin inserts a credential, rejecting duplicate profiles.
func (r *Redis) AddAdmin(ctx context.Context, profile, password string) (int, error) {
	if _, err := r.admin(ctx, profile); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateAdmin, profile)
	} else if !errors.Is(err, ErrRecordNotFound) {
		return 0, err
	}
	id64, err := r.client.Incr(ctx, adminSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate admin id: %w", err)
	}
	record := AdminRecord{ID: int(id64), Profile: profile, Password: password}
	if err := r.setAdmin(ctx, record); err != nil {
		return 0, err
	}
	return record.ID, nil
}

// RemoveAdmin deletes a credential by id.
func (r *Redis) RemoveAdmin(ctx context.Context, id int) error {
	records, err := r.Admins(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.ID == id {
			if err := r.client.Del(ctx, adminKey(record.Profile)).Err(); err != nil {
				return fmt.Errorf("remove admin record: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: admin %d", ErrRecordNotFound, id)
}

// Admins lists the stored credentials ordered by id.
func (r *Redis) Admins(ctx context.Context) ([]AdminRecord, error) {
	keys, err := r.scanKeys(ctx, adminKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var records []AdminRecord
	for _, key := range keys {
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read admin record: %w", err)
		}
		var record AdminRecord
		if err := msgpack.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("decode admin record: %w", err)
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// HasAdmins reports whether any credential exists.
func (r *Redis) HasAdmins(ctx context.Context) (bool, error) {
	keys, err := r.scanKeys(ctx, adminKeyPrefix+"*")
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// ChangePassword replaces the password of an existing profile.
func (r *Redis) ChangePassword(ctx context.Context, profile, password string) error {
	record, err := r.admin(ctx, profile)
	if err != nil {
		return err
	}
	record.Password = password
	return r.setAdmin(ctx, record)
}

// Close releases the redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) admin(ctx context.Context, profile string) (AdminRecord, error) {
	raw, err := r.client.Get(ctx, adminKey(profile)).Bytes()
	if errors.Is(err, redis.Nil) {
		return AdminRecord{}, fmt.Errorf("%w: admin profile %q", ErrRecordNotFound, profile)
	}
	if err != nil {
		return AdminRecord{}, fmt.Errorf("read admin record: %w", err)
	}
	var record AdminRecord
	if err := msgpack.Unmarshal(raw, &record); err != nil {
		return AdminRecord{}, fmt.Errorf("decode admin record: %w", err)
	}
	return record, nil
}

func (r *Redis) setAdmin(ctx context.Context, record AdminRecord) error {
	raw, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode admin record: %w", err)
	}
	if err := r.client.Set(ctx, adminKey(record.Profile), raw, 0).Err(); err != nil {
		return fmt.Errorf("store admin record: %w", err)
	}
	return nil
}

// scanKeys iterates the keyspace without blocking redis the way KEYS would.
func (r *Redis) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan record keys: %w", err)
	}
	return keys, nil
}
