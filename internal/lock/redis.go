package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another instance holds the lock
var ErrNotAcquired = errors.New("lock: held by another instance")

// Config configures the cross-instance cycle lock
type Config struct {
	Enabled  bool          `toml:"enabled"`
	Addr     string        `toml:"redis_addr" env:"REDIS_ADDR"`
	Password string        `toml:"redis_password" env:"REDIS_PASSWORD"`
	DB       int           `toml:"redis_db"`
	Key      string        `toml:"key"`
	TTL      time.Duration `toml:"ttl"`
}

// DefaultConfig returns lock defaults. The lock is off unless enabled.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Addr:    "localhost:6379",
		Key:     "stationsync:lock:cycle",
		TTL:     2 * time.Minute,
	}
}

// Validate checks lock configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("lock redis_addr is required when the lock is enabled")
	}
	if c.Key == "" {
		return fmt.Errorf("lock key is required when the lock is enabled")
	}
	if c.TTL < time.Second {
		return fmt.Errorf("lock ttl must be at least 1s, got %v", c.TTL)
	}
	return nil
}

// releaseScript deletes the key only if this instance still owns it
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript pushes the expiry out only if this instance still owns the key
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock is a SET NX lock with an owner token. While held, its expiry is
// refreshed every third of the TTL so a long cycle keeps it.
type RedisLock struct {
	client  redis.UniversalClient
	key     string
	ttl     time.Duration
	ownerID string
	logger  *slog.Logger
}

// NewRedisLock creates a lock on key using client
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *RedisLock {
	hostname, _ := os.Hostname()
	return &RedisLock{
		client:  client,
		key:     key,
		ttl:     ttl,
		ownerID: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString()),
		logger:  logger,
	}
}

// NewClient creates the redis client described by config
func NewClient(config Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
}

// OwnerID identifies this instance as a lock holder
func (l *RedisLock) OwnerID() string {
	return l.ownerID
}

// TryAcquire takes the lock without waiting. It returns ErrNotAcquired if
// another owner holds it. The returned release func must be called once.
func (l *RedisLock) TryAcquire(ctx context.Context) (func(context.Context) error, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.ownerID, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(stop)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			wg.Wait()
			err = l.release(ctx)
		})
		return err
	}
	return release, nil
}

func (l *RedisLock) keepAlive(stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.extend(ctx)
			cancel()
			if err != nil {
				l.logger.Warn("failed to extend cycle lock", "key", l.key, "error", err)
			}
		}
	}
}

func (l *RedisLock) extend(ctx context.Context) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.ownerID, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if result == 0 {
		return fmt.Errorf("lock %s no longer held by this instance", l.key)
	}
	return nil
}

func (l *RedisLock) release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Ping checks that redis is reachable
func (l *RedisLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
