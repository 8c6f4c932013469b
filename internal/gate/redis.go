package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's TTL only if this holder still owns it
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a gate shared by every instance pointed at the same key.
// A holder renews the key every ttl/3 until it releases, so the TTL only
// bounds how long a crashed holder can block other instances.
type Redis struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a gate on key
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, key: key, ttl: ttl, logger: logger}
}

// TryAcquire sets the key if absent and keeps it alive until release
func (g *Redis) TryAcquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire batch lock: %w", ErrUnavailable, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	if g.ttl > 0 {
		go g.keepAlive(token, stop, done)
	} else {
		close(done)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, g.client, []string{g.key}, token).Err(); err != nil {
				g.logger.Warn("Failed to release batch lock", slog.String("key", g.key), slog.Any("error", err))
			}
		})
	}, nil
}

// keepAlive renews the key until stop is closed or the lock is lost
func (g *Redis) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := g.ttl / 3
	if interval <= 0 {
		interval = g.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := refreshScript.Run(ctx, g.client, []string{g.key}, token, g.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				g.logger.Warn("Failed to renew batch lock", slog.String("key", g.key), slog.Any("error", err))
				continue
			}
			if n == 0 {
				g.logger.Error("Batch lock lost to another holder", slog.String("key", g.key))
				return
			}
		}
	}
}
