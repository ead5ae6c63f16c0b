package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const KeyPrefix = "marmot:delivered:"

var releaseScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and cjson.decode(v).exit_code == tonumber(ARGV[1]) then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLedger struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedis keeps entries as keys that expire after ttl, so Prune has nothing to do.
// The client is owned by the caller.
func NewRedis(rdb *goredis.Client, ttl time.Duration) Ledger {
	return &redisLedger{rdb: rdb, ttl: ttl}
}

func (l *redisLedger) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, KeyPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}

	return n > 0, nil
}

func (l *redisLedger) Claim(ctx context.Context, messageID string, entry Entry) (bool, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	claimed, err := l.rdb.SetNX(ctx, KeyPrefix+messageID, value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}

	return claimed, nil
}

// Record keeps the expiry set by Claim; an unclaimed id gets a fresh one.
func (l *redisLedger) Record(ctx context.Context, messageID string, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	updated, err := l.rdb.SetXX(ctx, KeyPrefix+messageID, value, goredis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	if !updated {
		if err := l.rdb.Set(ctx, KeyPrefix+messageID, value, l.ttl).Err(); err != nil {
			return fmt.Errorf("failed to record delivery: %w", err)
		}
	}

	return nil
}

func (l *redisLedger) Release(ctx context.Context, messageID string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{KeyPrefix + messageID}, PendingExitCode).Err(); err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}

	return nil
}

func (l *redisLedger) Prune(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (l *redisLedger) Close() error {
	return nil
}
