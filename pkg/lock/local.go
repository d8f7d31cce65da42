package lock

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mxpv/pledgesync/pkg/model"
)

// Local is an in-process keyed lock for single instance deployments.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string, timeout time.Duration) (Guard, error) {
	s := l.ref(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		log.Debugf("lock %q acquired", key)
		return &localGuard{owner: l, key: key, slot: s}, nil
	case <-timer.C:
		l.unref(key)
		return nil, model.ErrLockTimeout
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		return
	}

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type localGuard struct {
	once  sync.Once
	owner *Local
	key   string
	slot  *slot
}

func (g *localGuard) Release(_ context.Context) error {
	g.once.Do(func() {
		<-g.slot.ch
		g.owner.unref(g.key)
		log.Debugf("lock %q released", g.key)
	})
	return nil
}
