package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/rental-ops/pkg/logging"
)

// ErrDriveURLUnavailable means neither the override, the cache nor the
// account endpoint produced a drive base URL.
var ErrDriveURLUnavailable = errors.New("documents: kommo drive url unavailable")

const (
	driveURLCacheKey = "kommo:drive_url"
	driveURLCacheTTL = 24 * time.Hour
)

// DriveURLSource resolves the Kommo drive base URL.
type DriveURLSource interface {
	DriveURL(ctx context.Context) (string, error)
}

// AccountFetcher queries the Kommo account endpoint.
type AccountFetcher interface {
	AccountDriveURL(ctx context.Context) (string, error)
}

// DriveURLResolver memoises the drive URL for the process lifetime, sharing
// it through Redis when a client is configured. Concurrent first calls may
// both hit the account endpoint; the last write wins.
type DriveURLResolver struct {
	override string
	account  AccountFetcher
	cache    *redis.Client
	logger   *logging.Logger

	mu    sync.RWMutex
	value string
}

// NewDriveURLResolver builds a resolver. cache may be nil.
func NewDriveURLResolver(override string, account AccountFetcher, cache *redis.Client, logger *logging.Logger) *DriveURLResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &DriveURLResolver{
		override: strings.TrimRight(strings.TrimSpace(override), "/"),
		account:  account,
		cache:    cache,
		logger:   logger,
	}
}

func (r *DriveURLResolver) DriveURL(ctx context.Context) (string, error) {
	if r.override != "" {
		return r.override, nil
	}
	r.mu.RLock()
	memo := r.value
	r.mu.RUnlock()
	if memo != "" {
		return memo, nil
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, driveURLCacheKey).Result()
		switch {
		case err == nil && cached != "":
			r.remember(cached)
			return cached, nil
		case err != nil && !errors.Is(err, redis.Nil):
			r.logger.Warn("drive url cache read failed", "error", err)
		}
	}

	if r.account == nil {
		return "", ErrDriveURLUnavailable
	}
	value, err := r.account.AccountDriveURL(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDriveURLUnavailable, err)
	}
	value = strings.TrimRight(strings.TrimSpace(value), "/")
	if value == "" {
		return "", ErrDriveURLUnavailable
	}
	r.remember(value)
	if r.cache != nil {
		if err := r.cache.Set(ctx, driveURLCacheKey, value, driveURLCacheTTL).Err(); err != nil {
			r.logger.Warn("drive url cache write failed", "error", err)
		}
	}
	r.logger.Info("resolved kommo drive url", "drive_url", value)
	return value, nil
}

func (r *DriveURLResolver) remember(value string) {
	r.mu.Lock()
	r.value = value
	r.mu.Unlock()
}
