// Package ratelimit throttles per-NodeId request rates using Redis or
// local memory, the same store-backed approach the teacher used for
// its HTTP/WS endpoints, generalized to the two transport-level
// operations worth throttling here: discovery queries and connect
// attempts, each of which a misbehaving or thundering-herd peer could
// otherwise spam.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/arenamesh/zarena/internal/v1/config"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter enforces a discovery-query rate and a connect-attempt rate,
// each keyed by the requesting node's id.
type Limiter struct {
	discovery   *limiter.Limiter
	connect     *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// New builds a Limiter from cfg's rate strings ("<n>-<period>", e.g.
// "100-M"). If redisClient is non-nil its store is shared across every
// node in the arena; otherwise each process rate-limits independently
// against an in-memory store.
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	discoveryRate, err := limiter.NewRateFromFormatted(cfg.RateLimitDiscovery)
	if err != nil {
		return nil, fmt.Errorf("invalid discovery rate: %w", err)
	}
	connectRate, err := limiter.NewRateFromFormatted(cfg.RateLimitConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid connect rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "arena:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (no redis client)")
	}

	return &Limiter{
		discovery:   limiter.New(store, discoveryRate),
		connect:     limiter.New(store, connectRate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// AllowDiscovery checks nodeID against the discovery rate, recording
// metrics either way. A store error fails open.
func (l *Limiter) AllowDiscovery(ctx context.Context, nodeID string) error {
	return l.check(ctx, l.discovery, nodeID, "discovery")
}

// AllowConnect checks nodeID against the connect rate, recording
// metrics either way. A store error fails open.
func (l *Limiter) AllowConnect(ctx context.Context, nodeID string) error {
	return l.check(ctx, l.connect, nodeID, "connect")
}

func (l *Limiter) check(ctx context.Context, inst *limiter.Limiter, nodeID, endpoint string) error {
	result, err := inst.Get(ctx, nodeID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed, failing open", zap.Error(err))
		return nil
	}
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues(endpoint, "node").Inc()
		return fmt.Errorf("rate limit exceeded for node %q on %s", nodeID, endpoint)
	}
	metrics.RateLimitRequests.WithLabelValues(endpoint).Inc()
	return nil
}
