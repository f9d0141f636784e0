package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/models"
)

// defaultKeep bounds the stored turns per conversation when the caller does
// not choose a cap.
const defaultKeep = 50

// Connect opens a redis client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Store keeps per-user conversation turns in a redis list, oldest first.
// Every append refreshes the TTL, so an idle conversation ages out whole.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	keep   int
}

func New(client *redis.Client, ttl time.Duration, keep int) *Store {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Store{client: client, ttl: ttl, keep: keep}
}

func key(userID string) string { return "history:" + userID }

// Append adds turns to the end of the conversation, trims it to the retention
// cap and refreshes the TTL.
func (s *Store) Append(ctx context.Context, userID string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, data)
	}

	k := key(userID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, values...)
	pipe.LTrim(ctx, k, int64(-s.keep), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest turns in chronological order. A user
// without history gets an empty slice, not an error.
func (s *Store) Recent(ctx context.Context, userID string, n int) ([]models.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, key(userID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	turns := make([]models.Turn, 0, len(raw))
	for _, item := range raw {
		var turn models.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear drops the whole conversation.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
