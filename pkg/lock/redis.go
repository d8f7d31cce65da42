package lock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	goredislib "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

const retryDelay = 100 * time.Millisecond

// Redis is a RedLock implementation for deployments running several instances.
type Redis struct {
	rs      *redsync.Redsync
	clients []*goredislib.Client
	expiry  time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis connects to every address as an independent master.
func NewRedis(addresses []string, password string, expiry time.Duration) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("no redis addresses given")
	}

	var (
		pools   = make([]redis.Pool, 0, len(addresses))
		clients = make([]*goredislib.Client, 0, len(addresses))
	)

	for _, addr := range addresses {
		client := goredislib.NewClient(&goredislib.Options{
			Addr:     addr,
			Password: password,
		})

		clients = append(clients, client)
		pools = append(pools, goredis.NewPool(client))
	}

	return &Redis{
		rs:      redsync.New(pools...),
		clients: clients,
		expiry:  expiry,
	}, nil
}

// Ping checks connectivity to every node.
func (r *Redis) Ping(ctx context.Context) error {
	for _, client := range r.clients {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Wrapf(err, "failed to ping redis %s", client.Options().Addr)
		}
	}
	return nil
}

func (r *Redis) Acquire(ctx context.Context, key string, timeout time.Duration) (Guard, error) {
	tries := int(timeout/retryDelay) + 1

	mutex := r.rs.NewMutex(
		key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(retryDelay),
	)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := mutex.LockContext(lockCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") || lockCtx.Err() != nil {
			return nil, model.ErrLockTimeout
		}

		return nil, errors.Wrapf(err, "failed to acquire lock %q", key)
	}

	log.Debugf("lock %q acquired", key)
	return &redisGuard{key: key, mutex: mutex}, nil
}

func (r *Redis) Close() error {
	var first error
	for _, client := range r.clients {
		if err := client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type redisGuard struct {
	once  sync.Once
	key   string
	mutex *redsync.Mutex
}

func (g *redisGuard) Release(ctx context.Context) error {
	var err error
	g.once.Do(func() {
		var ok bool
		ok, err = g.mutex.UnlockContext(ctx)
		if err == nil && !ok {
			err = errors.Errorf("lock %q expired before release", g.key)
		}
		if err != nil {
			log.WithError(err).Warnf("failed to release lock %q", g.key)
			return
		}
		log.Debugf("lock %q released", g.key)
	})
	return err
}
