package broadcast

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// upsertMirrorScript writes one payload under both index hashes atomically.
// KEYS[1] = shop index hash (e.g. "shopOrders/shop-1")
// KEYS[2] = customer index hash (e.g. "customerOrders/cust-1")
// KEYS[3] = order version hash
// ARGV[1] = order id
// ARGV[2] = payload
// ARGV[3] = order version
// Returns 1 when written, 0 when a newer version is already mirrored.
var upsertMirrorScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[3], ARGV[1]) or "0")
local incoming = tonumber(ARGV[3])
if current > incoming then
    return 0
end

redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[3], ARGV[1], ARGV[3])

-- Notify listeners; the message is the changed order id
redis.call("PUBLISH", KEYS[1], ARGV[1])
redis.call("PUBLISH", KEYS[2], ARGV[1])

return 1
`)

const (
	defaultVersionsKey    = "orderVersions"
	defaultHealthInterval = 5 * time.Second
	snapshotTimeout       = 3 * time.Second
)

// RedisStore implements Store with one Redis hash per index key and pub/sub
// notifications on a channel named after the key.
type RedisStore struct {
	client         redis.UniversalClient
	log            *zap.Logger
	versionsKey    string
	healthInterval time.Duration
}

// NewRedisClient creates a client for the broadcast store.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStore(client redis.UniversalClient, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client:         client,
		log:            log,
		versionsKey:    defaultVersionsKey,
		healthInterval: defaultHealthInterval,
	}
}

// WithHealthInterval sets how often live subscriptions ping Redis. A failed
// ping ends the subscription so the watcher can fall back to polling.
func (s *RedisStore) WithHealthInterval(d time.Duration) *RedisStore {
	if d > 0 {
		s.healthInterval = d
	}
	return s
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) UpsertMirror(ctx context.Context, o orders.Order) error {
	payload, err := Encode(o)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrBroadcastMirrorFailed, err)
	}
	keys := KeysFor(o)
	res, err := upsertMirrorScript.Run(ctx, s.client,
		[]string{keys[0].Path(), keys[1].Path(), s.versionsKey},
		o.ID, payload, strconv.Itoa(o.Version()),
	).Int()
	if err != nil {
		return fmt.Errorf("mirror order %s: %w: %w", o.ID, apperr.ErrBroadcastMirrorFailed, err)
	}
	if res == 0 {
		s.log.Debug("skipped stale mirror write", zap.String("order_id", o.ID), zap.Int("version", o.Version()))
	}
	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context, key IndexKey) ([]orders.Order, error) {
	raw, err := s.client.HGetAll(ctx, key.Path()).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key.Path(), err)
	}
	payloads := make(map[string][]byte, len(raw))
	for id, v := range raw {
		payloads[id] = []byte(v)
	}
	return decodeSet(payloads)
}

// Subscribe confirms the pub/sub subscription, delivers the current set and
// then re-delivers the full set after every change notification.
func (s *RedisStore) Subscribe(ctx context.Context, key IndexKey, fn Listener) (Handle, error) {
	pubsub := s.client.Subscribe(ctx, key.Path())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key.Path(), err)
	}

	sub := newSubscription(key, fn, s.log)
	sub.onStop = func() { _ = pubsub.Close() }
	go s.run(sub, pubsub)
	return sub, nil
}

func (s *RedisStore) run(sub *subscription, pubsub *redis.PubSub) {
	log := s.log.With(zap.String("index", sub.key.Path()))
	defer func() {
		_ = pubsub.Close()
		sub.end()
	}()

	if !s.refresh(sub) {
		return
	}

	health := time.NewTicker(s.healthInterval)
	defer health.Stop()
	ch := pubsub.Channel()
	for {
		select {
		case <-sub.stopCh:
			return
		case _, ok := <-ch:
			if !ok {
				log.Warn("redis subscription channel closed")
				return
			}
			if !s.refresh(sub) {
				return
			}
		case <-health.C:
			ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
			err := s.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				log.Warn("redis health check failed, ending subscription", zap.Error(err))
				return
			}
		}
	}
}

func (s *RedisStore) refresh(sub *subscription) bool {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	set, err := s.Snapshot(ctx, sub.key)
	if err != nil {
		s.log.Warn("redis snapshot failed, ending subscription", zap.String("index", sub.key.Path()), zap.Error(err))
		return false
	}
	sub.deliver(set)
	return true
}
