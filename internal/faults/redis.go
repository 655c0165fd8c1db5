package faults

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	groupName           = "ecu-timing"
	faultSetKey         = "ecu-timing:fault"
	eventStream         = "events:faults"
	eventStreamMaxLen   = 1000
	notificationChannel = "ecu-timing"
)

// RedisStore keeps the set of present fault codes, appends each transition
// to a capped stream and notifies subscribers.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			DB:           db,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		}),
		ctx: context.Background(),
	}
}

// Ping checks the connection.
func (s *RedisStore) Ping() error {
	return s.client.Ping(s.ctx).Err()
}

// Report writes t in one pipeline.
func (s *RedisStore) Report(t Transition) error {
	pipe := s.client.Pipeline()

	values := map[string]interface{}{
		"group": groupName,
		"fault": string(t.Fault),
	}
	if t.Present {
		pipe.SAdd(s.ctx, faultSetKey, t.Code)
		values["code"] = t.Code
		values["count"] = t.Delta
	} else {
		pipe.SRem(s.ctx, faultSetKey, t.Code)
		values["code"] = -t.Code
	}

	pipe.XAdd(s.ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: eventStreamMaxLen,
		Values: values,
	})
	pipe.Publish(s.ctx, notificationChannel, "fault")

	_, err := pipe.Exec(s.ctx)
	return err
}

// Close disconnects from Redis.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
