package purgedaemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/redis"
	"github.com/edgecomet/banpurge/internal/common/requestid"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/pkg/types"
)

// ErrNotFound is returned for an unknown or expired invalidation id
var ErrNotFound = errors.New("invalidation not found")

// claimScript pops up to ARGV[2] members due at ARGV[1] in one step, so two
// daemons sharing a queue never claim the same id. It returns a flat
// member, score list.
const claimScript = `
local claimed = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, ARGV[2])
local ids = {}
for i = 1, #claimed, 2 do
	ids[#ids + 1] = claimed[i]
end
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return claimed
`

// Entry is a queued invalidation loaded for one dispatch attempt
type Entry struct {
	*invalidation.Item
	Attempts  int
	CreatedAt time.Time
}

// Queue stores invalidation records in Redis hashes and schedules their ids
// in one sorted set per type, scored by due time in unix milliseconds.
type Queue struct {
	redis  *redis.Client
	keys   *redis.KeyGenerator
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewQueue(redisClient *redis.Client, recordTTL time.Duration, logger *zap.Logger) *Queue {
	return &Queue{
		redis:  redisClient,
		keys:   redis.NewKeyGenerator(),
		ttl:    recordTTL,
		logger: logger,
		now:    time.Now,
	}
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Enqueue stores one NEW record per expression and schedules it immediately
func (q *Queue) Enqueue(ctx context.Context, t invalidation.Type, expressions []string) ([]string, error) {
	now := q.now()
	ids := make([]string, 0, len(expressions))
	members := make([]redis.Z, 0, len(expressions))

	for _, expression := range expressions {
		id := requestid.New()
		err := q.redis.HSetWithExpire(ctx, q.keys.InvalidationKey(id), q.ttl,
			"id", id,
			"type", string(t),
			"expression", expression,
			"state", invalidation.StateNew.String(),
			"attempts", 0,
			"created_at", now.Unix(),
			"updated_at", now.Unix(),
		)
		if err != nil {
			return ids, fmt.Errorf("failed to store invalidation: %w", err)
		}
		ids = append(ids, id)
		members = append(members, redis.Z{Score: score(now), Member: id})
	}

	if err := q.redis.ZAdd(ctx, q.keys.PurgeQueueKey(string(t)), members...); err != nil {
		return ids, fmt.Errorf("failed to schedule invalidations: %w", err)
	}
	return ids, nil
}

// Get returns the stored record of an invalidation
func (q *Queue) Get(ctx context.Context, id string) (*types.InvalidationRecord, error) {
	fields, err := q.redis.HGetAll(ctx, q.keys.InvalidationKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(fields["updated_at"], 10, 64)

	return &types.InvalidationRecord{
		ID:         fields["id"],
		Type:       fields["type"],
		Expression: fields["expression"],
		State:      fields["state"],
		Attempts:   attempts,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		LastError:  fields["last_error"],
	}, nil
}

// Claim removes up to limit due ids of type t from the queue and loads them.
// Ids whose record has expired are dropped. When loading a record fails, that
// id and every id not yet loaded go back to the queue at their original due
// time, and the entries loaded so far are returned with the error.
func (q *Queue) Claim(ctx context.Context, t invalidation.Type, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	key := q.keys.PurgeQueueKey(string(t))
	result, err := q.redis.Eval(ctx, claimScript, []string{key},
		strconv.FormatInt(q.now().UnixMilli(), 10), limit)
	if err != nil {
		return nil, err
	}

	claimed := parseClaimed(result)
	entries := make([]*Entry, 0, len(claimed))
	for i, member := range claimed {
		id, _ := member.Member.(string)
		record, err := q.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			q.logger.Warn("Dropping queued invalidation without record",
				zap.String("id", id),
				zap.String("type", string(t)))
			continue
		}
		if err != nil {
			q.restore(ctx, key, claimed[i:])
			return entries, fmt.Errorf("failed to load invalidation %s: %w", id, err)
		}
		entries = append(entries, &Entry{
			Item:      invalidation.NewItem(record.ID, t, record.Expression),
			Attempts:  record.Attempts,
			CreatedAt: time.Unix(record.CreatedAt, 0),
		})
	}
	return entries, nil
}

// restore puts claimed members back at their original scores. It runs on a
// detached context because a cancelled ctx is a common reason for getting here.
func (q *Queue) restore(ctx context.Context, key string, members []redis.Z) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := q.redis.ZAdd(rctx, key, members...); err != nil {
		q.logger.Error("Failed to return claimed invalidations to the queue",
			zap.String("queue", key),
			zap.Int("invalidations", len(members)),
			zap.Error(err))
		return
	}
	q.logger.Warn("Returned claimed invalidations to the queue",
		zap.String("queue", key),
		zap.Int("invalidations", len(members)))
}

// parseClaimed converts the script's flat member, score reply
func parseClaimed(result interface{}) []redis.Z {
	raw, _ := result.([]interface{})
	members := make([]redis.Z, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		id, ok := raw[i].(string)
		if !ok {
			continue
		}
		var score float64
		switch v := raw[i+1].(type) {
		case string:
			score, _ = strconv.ParseFloat(v, 64)
		case int64:
			score = float64(v)
		case float64:
			score = v
		}
		members = append(members, redis.Z{Score: score, Member: id})
	}
	return members
}

// Save persists the entry state, attempt count and last error
func (q *Queue) Save(ctx context.Context, entry *Entry, lastError string) error {
	return q.redis.HSetWithExpire(ctx, q.keys.InvalidationKey(entry.ID()), q.ttl,
		"state", entry.State().String(),
		"attempts", entry.Attempts,
		"updated_at", q.now().Unix(),
		"last_error", lastError,
	)
}

// Requeue schedules the entry again after delay
func (q *Queue) Requeue(ctx context.Context, entry *Entry, delay time.Duration) error {
	due := q.now().Add(delay)
	return q.redis.ZAdd(ctx, q.keys.PurgeQueueKey(string(entry.Type())),
		redis.Z{Score: score(due), Member: entry.ID()})
}

// Depth returns the queued and currently due counts for type t
func (q *Queue) Depth(ctx context.Context, t invalidation.Type) (total, due int64, err error) {
	key := q.keys.PurgeQueueKey(string(t))
	if total, err = q.redis.ZCard(ctx, key); err != nil {
		return 0, 0, err
	}
	due, err = q.redis.ZCount(ctx, key, "-inf", strconv.FormatInt(q.now().UnixMilli(), 10))
	return total, due, err
}
