package pubsub

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"livechat-api/internal/domain/broker"
)

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	// URL is a single redis:// URL or a comma-separated list of URLs / host:port pairs.
	URL      string
	Password string
	DB       int
}

// RedisClient implements broker.Client on go-redis. One *redis.PubSub is
// shared by every subscription of the process and read by a single listener
// goroutine that hands messages to a broker.Dispatcher.
type RedisClient struct {
	client     redis.UniversalClient
	dispatcher *broker.Dispatcher
	log        zerolog.Logger

	mu        sync.Mutex
	ps        *redis.PubSub
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ broker.Client = (*RedisClient)(nil)

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, opts RedisOptions, dispatcher *broker.Dispatcher, log zerolog.Logger) (*RedisClient, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}

	uopts, err := buildUniversalOptions(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.Password != "" {
		uopts.Password = opts.Password
	}
	if opts.DB != 0 {
		uopts.DB = opts.DB
	}

	logger := log.With().Str("component", "redis-broker").Logger()
	if len(uopts.Addrs) > 1 && uopts.DB != 0 {
		logger.Warn().Msg("Ignoring non-zero DB when using Redis Cluster configuration")
		uopts.DB = 0
	}

	client := redis.NewUniversalClient(uopts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Strs("addrs", uopts.Addrs).Msg("connected to redis broker")
	return newRedisClient(client, dispatcher, logger), nil
}

func newRedisClient(client redis.UniversalClient, dispatcher *broker.Dispatcher, log zerolog.Logger) *RedisClient {
	return &RedisClient{
		client:     client,
		dispatcher: dispatcher,
		log:        log,
	}
}

func buildUniversalOptions(raw string) (*redis.UniversalOptions, error) {
	parts := strings.Split(raw, ",")
	opts := &redis.UniversalOptions{}

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if !strings.Contains(part, "://") {
			opts.Addrs = append(opts.Addrs, part)
			continue
		}

		parsed, err := redis.ParseURL(part)
		if err != nil {
			return nil, err
		}
		opts.Addrs = append(opts.Addrs, parsed.Addr)
		if opts.Username == "" {
			opts.Username = parsed.Username
		}
		if opts.Password == "" {
			opts.Password = parsed.Password
		}
		if opts.DB == 0 {
			opts.DB = parsed.DB
		}
		if opts.TLSConfig == nil {
			opts.TLSConfig = parsed.TLSConfig
		}
		if opts.DialTimeout == 0 {
			opts.DialTimeout = parsed.DialTimeout
		}
		if opts.PoolSize == 0 {
			opts.PoolSize = parsed.PoolSize
		}
	}

	if len(opts.Addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}
	return opts, nil
}

// Publish implements broker.Client.
func (r *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements broker.Client. The handler is registered before the
// SUBSCRIBE command so nothing published after it returns is missed.
func (r *RedisClient) Subscribe(ctx context.Context, channel string, handler broker.Handler) error {
	if !r.dispatcher.Register(channel, handler) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ps == nil {
		ps := r.client.Subscribe(ctx, channel)
		// wait for the confirmation before the listener takes over the connection
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			r.dispatcher.Remove(channel)
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		r.ps = ps
		r.wg.Add(1)
		go r.listen(ps)
		return nil
	}

	if err := r.ps.Subscribe(ctx, channel); err != nil {
		r.dispatcher.Remove(channel)
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe implements broker.Client.
func (r *RedisClient) Unsubscribe(ctx context.Context, channel string) error {
	r.dispatcher.Remove(channel)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ps == nil {
		return nil
	}
	if err := r.ps.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", channel, err)
	}
	return nil
}

func (r *RedisClient) listen(ps *redis.PubSub) {
	defer r.wg.Done()
	for msg := range ps.Channel() {
		r.dispatcher.Dispatch(broker.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
	}
}

// SetAdd implements broker.Client.
func (r *RedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap("sadd", key, r.client.SAdd(ctx, key, toArgs(members)...).Err())
}

// SetRemove implements broker.Client.
func (r *RedisClient) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap("srem", key, r.client.SRem(ctx, key, toArgs(members)...).Err())
}

// SetMembers implements broker.Client.
func (r *RedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap("smembers", key, err)
	}
	return members, nil
}

// SetIsMember implements broker.Client.
func (r *RedisClient) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap("sismember", key, err)
	}
	return ok, nil
}

// ScoreSet implements broker.Client.
func (r *RedisClient) ScoreSet(ctx context.Context, key, member string, score float64) error {
	return wrap("zadd", key, r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// ScoreRemove implements broker.Client.
func (r *RedisClient) ScoreRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap("zrem", key, r.client.ZRem(ctx, key, toArgs(members)...).Err())
}

// ScoreRangeByScore implements broker.Client.
func (r *RedisClient) ScoreRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, wrap("zrangebyscore", key, err)
	}
	return members, nil
}

// ScoreRemoveRangeByScore implements broker.Client.
func (r *RedisClient) ScoreRemoveRangeByScore(ctx context.Context, key string, min, max float64) error {
	return wrap("zremrangebyscore", key, r.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Err())
}

// ScoreIncr implements broker.Client.
func (r *RedisClient) ScoreIncr(ctx context.Context, key, member string, delta float64) error {
	return wrap("zincrby", key, r.client.ZIncrBy(ctx, key, delta, member).Err())
}

// Set implements broker.Client.
func (r *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("set", key, r.client.Set(ctx, key, value, ttl).Err())
}

// SetNX implements broker.Client.
func (r *RedisClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrap("setnx", key, err)
	}
	return ok, nil
}

// Get implements broker.Client.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", broker.ErrNil
		}
		return "", wrap("get", key, err)
	}
	return val, nil
}

// GetDel implements broker.Client.
func (r *RedisClient) GetDel(ctx context.Context, key string) (string, error) {
	val, err := r.client.GetDel(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", broker.ErrNil
		}
		return "", wrap("getdel", key, err)
	}
	return val, nil
}

// Delete implements broker.Client.
func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", strings.Join(keys, ","), r.client.Del(ctx, keys...).Err())
}

// Exists implements broker.Client.
func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", key, err)
	}
	return n > 0, nil
}

// Expire implements broker.Client.
func (r *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", key, r.client.Expire(ctx, key, ttl).Err())
}

// Ping implements broker.Client.
func (r *RedisClient) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close stops the listener and releases the connection pool.
func (r *RedisClient) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		if r.ps != nil {
			if cerr := r.ps.Close(); cerr != nil {
				err = cerr
			}
		}
		r.mu.Unlock()
		r.wg.Wait()
		r.dispatcher.Close()
		if cerr := r.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis %s %s: %w", op, key, err)
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}

func formatScore(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
