package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/transfa/settlement-service/internal/domain"
	"go.uber.org/zap"
)

// RateProvider returns the conversion rate for a pair, spread already applied.
type RateProvider interface {
	Rate(ctx context.Context, source, target string) (decimal.Decimal, error)
}

// StaticRateProvider serves rates from configuration.
type StaticRateProvider struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{rates: make(map[string]decimal.Decimal)}
}

func pairKey(source, target string) string {
	return domain.NormalizeCurrency(source) + ":" + domain.NormalizeCurrency(target)
}

// Set configures the rate for source->target.
func (p *StaticRateProvider) Set(source, target string, rate decimal.Decimal) *StaticRateProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[pairKey(source, target)] = rate
	return p
}

func (p *StaticRateProvider) Rate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rate, ok := p.rates[pairKey(source, target)]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, domain.ErrRateNotConfigured
	}
	return rate, nil
}

// RedisRateProvider caches an upstream provider's rates in Redis so every replica
// quotes with the same rate for the cache window.
type RedisRateProvider struct {
	client   redis.UniversalClient
	upstream RateProvider
	prefix   string
	ttl      time.Duration
	log      *zap.Logger
}

func NewRedisRateProvider(client redis.UniversalClient, upstream RateProvider, prefix string, ttl time.Duration, log *zap.Logger) *RedisRateProvider {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "settlement"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRateProvider{
		client:   client,
		upstream: upstream,
		prefix:   trimmedPrefix,
		ttl:      ttl,
		log:      log.With(zap.String("component", "rate_cache")),
	}
}

func (p *RedisRateProvider) key(source, target string) string {
	return fmt.Sprintf("%s:rate:%s", p.prefix, pairKey(source, target))
}

// Rate returns the cached rate, falling back to the upstream provider on a miss. A
// Redis outage degrades to upstream reads.
func (p *RedisRateProvider) Rate(ctx context.Context, source, target string) (decimal.Decimal, error) {
	key := p.key(source, target)

	cached, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		rate, parseErr := decimal.NewFromString(cached)
		if parseErr == nil && rate.IsPositive() {
			return rate, nil
		}
		p.log.Warn("discarding unparseable cached rate", zap.String("key", key), zap.String("value", cached))
	case !errors.Is(err, redis.Nil):
		p.log.Warn("rate cache read failed; using upstream", zap.String("key", key), zap.Error(err))
	}

	rate, err := p.upstream.Rate(ctx, source, target)
	if err != nil {
		return decimal.Zero, err
	}
	if setErr := p.client.Set(ctx, key, rate.String(), p.ttl).Err(); setErr != nil {
		p.log.Warn("rate cache write failed", zap.String("key", key), zap.Error(setErr))
	}
	return rate, nil
}
