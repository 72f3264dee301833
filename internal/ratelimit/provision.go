package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/stackfleet/conductor/internal/config"
)

const keyProvisionCustomer = "provision:customer:%s"

// ProvisionLimiter throttles how often a customer may schedule new
// resources. It protects the backend queue from a single tenant; quota
// enforcement still owns the capacity question.
type ProvisionLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewProvisionLimiter(cfg config.Config) (*ProvisionLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ProvisionRate <= 0 || limitCfg.ProvisionBurst <= 0 {
		return nil, errors.New("provision rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &ProvisionLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.ProvisionRate,
		burst:   limitCfg.ProvisionBurst,
	}, nil
}

func (l *ProvisionLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ProvisionLimiter) AllowCustomer(ctx context.Context, customerID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := fmt.Sprintf(keyProvisionCustomer, strings.TrimSpace(customerID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
