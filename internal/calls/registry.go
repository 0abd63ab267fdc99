package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"phone-gateway/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("calls: session not found")

// Registry tracks live direct sessions and the per-principal session cap.
type Registry interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, id SessionID) (Session, error)
	Delete(ctx context.Context, s Session) error
	ListByOwner(ctx context.Context, ownerID string) ([]Session, error)

	// Acquire takes one of limit concurrent session slots for ownerID.
	Acquire(ctx context.Context, ownerID string, limit int) (bool, error)
	Release(ctx context.Context, ownerID string) error
}

// RedisRegistry stores each session as a JSON value with a TTL and indexes
// session ids per owner in a set. The TTL reclaims sessions leaked by a crashed process.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func sessionKey(id SessionID) string { return "gateway:session:" + string(id) }
func ownerSessionsKey(owner string) string { return "gateway:sessions:" + owner }

func (r *RedisRegistry) Put(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), b, r.ttl)
	pipe.SAdd(ctx, ownerSessionsKey(s.OwnerID), string(s.ID))
	pipe.Expire(ctx, ownerSessionsKey(s.OwnerID), r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Get(ctx context.Context, id SessionID) (Session, error) {
	b, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, s Session) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(s.ID))
	pipe.SRem(ctx, ownerSessionsKey(s.OwnerID), string(s.ID))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) ListByOwner(ctx context.Context, ownerID string) ([]Session, error) {
	out := make([]Session, 0)
	if ownerID == "" {
		return out, nil
	}
	ids, err := r.rdb.SMembers(ctx, ownerSessionsKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(SessionID(id))
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var stale []any
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		out = append(out, s)
	}
	if len(stale) > 0 {
		// expired values leave their id behind in the owner set
		_ = r.rdb.SRem(ctx, ownerSessionsKey(ownerID), stale...).Err()
	}
	sortSessions(out)
	return out, nil
}

func (r *RedisRegistry) Acquire(ctx context.Context, ownerID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, r.rdb, utils.SessionCapKey(ownerID), limit, r.ttl)
}

func (r *RedisRegistry) Release(ctx context.Context, ownerID string) error {
	return utils.ReleaseConcurrencyCap(ctx, r.rdb, utils.SessionCapKey(ownerID))
}

func sortSessions(s []Session) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].StartedAt.After(s[j].StartedAt) })
}
