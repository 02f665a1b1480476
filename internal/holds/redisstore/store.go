// Package redisstore keeps holds in Redis. Each hold is a hash; active holds are
// also indexed in a sorted set scored by expiry so the sweep finds them cheaply.
// Status changes run as Lua scripts, which makes each compare-and-set atomic.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-checkout/internal/holds"
	"ms-checkout/internal/models"
)

const (
	keyPrefix = "hold:"
	expiryKey = "holds:expiry"
)

// transitionScript: KEYS[1]=hold hash, KEYS[2]=expiry index.
// ARGV: to, guard, now(ms), id, retain-until(ms).
// Returns -1 missing, 0 lost, 1 won.
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'active' then return 0 end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
local now = tonumber(ARGV[3])
if ARGV[2] == 'not_expired' and exp <= now then return 0 end
if ARGV[2] == 'expired' and exp > now then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
return 1
`)

// restoreScript: ARGV: from, now(ms), id, tail(ms).
var restoreScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= ARGV[1] then return 0 end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
redis.call('HSET', KEYS[1], 'status', 'active', 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], exp, ARGV[3])
redis.call('PEXPIREAT', KEYS[1], exp + tonumber(ARGV[4]))
return 1
`)

// extendScript: ARGV: expires(ms), now(ms), id, retain-until(ms).
var extendScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'active' then return 0 end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if exp <= tonumber(ARGV[2]) then return 0 end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[1], 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[3])
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
return 1
`)

type Store struct {
	Client *redis.Client
	// AuditTail is how long a hash outlives its hold's expiry or terminal transition.
	AuditTail time.Duration
}

func New(client *redis.Client, auditTail time.Duration) *Store {
	if auditTail <= 0 {
		auditTail = 24 * time.Hour
	}
	return &Store{Client: client, AuditTail: auditTail}
}

var _ holds.Store = (*Store)(nil)

// record is the immutable part of a hold, stored as JSON in the "data" field.
type record struct {
	ID          string            `json:"id"`
	RequesterID string            `json:"requester_id"`
	EventID     string            `json:"event_id"`
	Items       []models.HoldItem `json:"items"`
	CreatedAt   time.Time         `json:"created_at"`
}

func key(id string) string { return keyPrefix + id }

func ms(t time.Time) int64 { return t.UnixMilli() }

func (s *Store) Create(ctx context.Context, h *models.Hold) error {
	data, err := json.Marshal(record{
		ID:          h.ID,
		RequesterID: h.RequesterID,
		EventID:     h.EventID,
		Items:       h.Items,
		CreatedAt:   h.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode hold: %w", err)
	}

	k := key(h.ID)
	_, err = s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			"data", data,
			"status", string(h.Status),
			"expires_at", ms(h.ExpiresAt),
			"updated_at", ms(h.UpdatedAt),
		)
		p.PExpireAt(ctx, k, h.ExpiresAt.Add(s.AuditTail))
		if h.Status == models.HoldActive {
			p.ZAdd(ctx, expiryKey, &redis.Z{Score: float64(ms(h.ExpiresAt)), Member: h.ID})
		}
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.Hold, error) {
	fields, err := s.Client.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load hold %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("hold %s: %w", id, models.ErrHoldNotFound)
	}
	return decode(id, fields)
}

func decode(id string, fields map[string]string) (*models.Hold, error) {
	var rec record
	if err := json.Unmarshal([]byte(fields["data"]), &rec); err != nil {
		return nil, fmt.Errorf("decode hold %s: %w", id, err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode hold %s expiry: %w", id, err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode hold %s update time: %w", id, err)
	}
	return &models.Hold{
		ID:          rec.ID,
		RequesterID: rec.RequesterID,
		EventID:     rec.EventID,
		Status:      models.HoldStatus(fields["status"]),
		Items:       rec.Items,
		CreatedAt:   rec.CreatedAt,
		ExpiresAt:   time.UnixMilli(expires).UTC(),
		UpdatedAt:   time.UnixMilli(updated).UTC(),
	}, nil
}

func (s *Store) Transition(ctx context.Context, id string, to models.HoldStatus, guard holds.Guard, now time.Time) (*models.Hold, bool, error) {
	res, err := transitionScript.Run(ctx, s.Client, []string{key(id), expiryKey},
		string(to), string(guard), ms(now), id, ms(now.Add(s.AuditTail))).Int()
	if err != nil {
		return nil, false, fmt.Errorf("transition hold %s to %s: %w", id, to, err)
	}
	if res < 0 {
		return nil, false, fmt.Errorf("hold %s: %w", id, models.ErrHoldNotFound)
	}
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return h, res == 1, nil
}

func (s *Store) Restore(ctx context.Context, id string, from models.HoldStatus, now time.Time) error {
	return restoreScript.Run(ctx, s.Client, []string{key(id), expiryKey},
		string(from), ms(now), id, s.AuditTail.Milliseconds()).Err()
}

func (s *Store) Extend(ctx context.Context, id string, expiresAt, now time.Time) (*models.Hold, bool, error) {
	res, err := extendScript.Run(ctx, s.Client, []string{key(id), expiryKey},
		ms(expiresAt), ms(now), id, ms(expiresAt.Add(s.AuditTail))).Int()
	if err != nil {
		return nil, false, fmt.Errorf("extend hold %s: %w", id, err)
	}
	if res < 0 {
		return nil, false, fmt.Errorf("hold %s: %w", id, models.ErrHoldNotFound)
	}
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return h, res == 1, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key(id))
		p.ZRem(ctx, expiryKey, id)
		return nil
	})
	return err
}

func (s *Store) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return s.Client.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(ms(now), 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
}

// Purge only tidies the expiry index. Terminal hashes already carry a Redis TTL of
// the audit tail, so what remains are index entries whose hash is gone.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.Client.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(before), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		exists, err := s.Client.Exists(ctx, key(id)).Result()
		if err != nil {
			return removed, err
		}
		if exists == 0 {
			if err := s.Client.ZRem(ctx, expiryKey, id).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
