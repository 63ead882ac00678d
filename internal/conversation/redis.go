package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndClearScript deletes the key only when the stored version matches.
var compareAndClearScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 0
end
local state = cjson.decode(raw)
if state['version'] ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore keeps states as JSON values whose TTL follows ExpiresAt.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps a client; prefix namespaces the keys.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "walletbot:state:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(userID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10)
}

// ttl returns the key lifetime for st; zero means no expiry.
func (s *RedisStore) ttl(st State) time.Duration {
	if st.ExpiresAt.IsZero() {
		return 0
	}
	d := st.ExpiresAt.Sub(s.now())
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID int64) (State, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Idle(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get state %d: %w", userID, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode state %d: %w", userID, err)
	}
	return st, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, userID int64, st State) error {
	if st.IsIdle() {
		if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
			return fmt.Errorf("clear state %d: %w", userID, err)
		}
		return nil
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state %d: %w", userID, err)
	}
	if err := s.rdb.Set(ctx, s.key(userID), raw, s.ttl(st)).Err(); err != nil {
		return fmt.Errorf("put state %d: %w", userID, err)
	}
	return nil
}

// CompareAndClear implements Store atomically on the server.
func (s *RedisStore) CompareAndClear(ctx context.Context, userID int64, version string) (bool, error) {
	n, err := compareAndClearScript.Run(ctx, s.rdb, []string{s.key(userID)}, version).Int()
	if err != nil {
		return false, fmt.Errorf("clear state %d: %w", userID, err)
	}
	return n == 1, nil
}
