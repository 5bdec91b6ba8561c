package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis keeps sessions in Redis with the ttl as key expiry, so they survive a
// restart of the bot process.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*Redis)(nil)

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: "smmpanel:session:", ttl: ttl, now: time.Now}
}

func (r *Redis) key(userID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, userID)
}

func (r *Redis) Get(ctx context.Context, userID int64) (Session, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session %d: %w", userID, err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// unreadable state is dropped rather than wedging the user
		_ = r.client.Del(ctx, r.key(userID)).Err()
		return Session{}, nil
	}
	return s, nil
}

func (r *Redis) Put(ctx context.Context, userID int64, s Session) error {
	if !s.Active() {
		return r.Clear(ctx, userID)
	}
	s.UpdatedAt = r.now()
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(userID), raw, r.ttl).Err()
}

func (r *Redis) Clear(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
