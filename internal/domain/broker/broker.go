// Package broker defines the port to the shared key/value and pub/sub store
// that lets several livechat processes converge on one view of presence and
// room membership.
package broker

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNil is returned by reads when the key does not exist.
var ErrNil = errors.New("broker: nil")

// Open bounds for scored-set range queries.
var (
	ScoreMin = math.Inf(-1)
	ScoreMax = math.Inf(1)
)

// Message is one payload received from a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

// Handler consumes messages for a subscribed channel. Handlers for the same
// channel are invoked sequentially, in publish order.
type Handler func(ctx context.Context, msg Message)

// Client is the shared store used for cross-process state and fan-out.
// All mutating methods are idempotent or additive so that concurrent
// processes never need a distributed lock.
type Client interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Unsubscribe(ctx context.Context, channel string) error

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetIsMember(ctx context.Context, key, member string) (bool, error)

	ScoreSet(ctx context.Context, key, member string, score float64) error
	ScoreRemove(ctx context.Context, key string, members ...string) error
	ScoreRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ScoreRemoveRangeByScore(ctx context.Context, key string, min, max float64) error
	ScoreIncr(ctx context.Context, key, member string, delta float64) error

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)

	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}
