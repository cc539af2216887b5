// Package lock provides short-lived mutual exclusion across server
// instances, keyed by resource. Acquisition never waits: a held key fails
// fast with ErrLockHeld so the client can retry.
package lock

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	apperrors "vtupay/internal/errors"
	"vtupay/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the subset of the expiring store the lock manager needs.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

// Lock is a held lock. It is only valid until AcquiredAt+TTL.
type Lock struct {
	Key        string
	Token      string
	TTL        time.Duration
	AcquiredAt time.Time
}

// Expired reports whether the TTL elapsed, after which another holder may
// already own the key.
func (l *Lock) Expired() bool {
	return time.Since(l.AcquiredAt) >= l.TTL
}

type Manager struct {
	store  Store
	logger *zap.Logger
}

func NewManager(store Store, log *zap.Logger) *Manager {
	if store == nil {
		panic("lock store is required")
	}
	return &Manager{store: store, logger: logger.OrNop(log)}
}

// WalletKey is the lock key guarding one owner's balance.
func WalletKey(ownerID uint) string {
	return "lock:wallet:" + strconv.FormatUint(uint64(ownerID), 10)
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock %q: ttl must be positive", key)
	}
	token := uuid.NewString()
	ok, err := m.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable.WithCause(err)
	}
	if !ok {
		return nil, apperrors.ErrLockHeld
	}
	return &Lock{Key: key, Token: token, TTL: ttl, AcquiredAt: time.Now()}, nil
}

// Release frees the lock if this holder still owns it. Failures are
// logged; the TTL bounds how long a stuck key can block others.
func (m *Manager) Release(ctx context.Context, l *Lock) {
	if l == nil {
		return
	}
	if l.Expired() {
		m.logger.Error("lock held past its ttl",
			zap.String("key", l.Key),
			zap.Duration("ttl", l.TTL),
			zap.Duration("held", time.Since(l.AcquiredAt)))
	}
	// Release must run even if the caller's context was cancelled.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	released, err := m.store.DeleteIfEquals(releaseCtx, l.Key, l.Token)
	if err != nil {
		m.logger.Warn("failed to release lock", zap.String("key", l.Key), zap.Error(err))
		return
	}
	if !released {
		m.logger.Warn("lock was taken over before release", zap.String("key", l.Key))
	}
}

// WithLock acquires every key, runs fn and releases all of them. Keys are
// de-duplicated and taken in sorted order so two callers locking the same
// pair of wallets cannot deadlock. If any key is held, the ones already
// acquired are released and ErrLockHeld is returned without calling fn.
func (m *Manager) WithLock(ctx context.Context, keys []string, ttl time.Duration, fn func(ctx context.Context) error) error {
	ordered := sortedUnique(keys)
	held := make([]*Lock, 0, len(ordered))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.Release(ctx, held[i])
		}
	}()

	for _, key := range ordered {
		l, err := m.Acquire(ctx, key, ttl)
		if err != nil {
			m.logger.Debug("lock acquisition failed", zap.String("key", key), zap.Error(err))
			return err
		}
		held = append(held, l)
	}

	return fn(ctx)
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
