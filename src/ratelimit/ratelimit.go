// Package ratelimit provides the two broker-call budgets spec.md §6
// requires: a tight bucket for order-mutating calls (submit/cancel) and a
// looser one for read-only polling (orders/positions/board). Info-class
// callers block on WaitInfo; order-class calls go through WaitOrderTimeout,
// which gives up with an error once its bound passes. The broker adapter's
// own retry/backoff handles rejection, this package exists to avoid
// tripping the broker's own rate limit in the first place.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/time/rate"

	"strategyexecutor/src/metrics"
)

type Config struct {
	OrderCallsPerSecond float64 `envconfig:"RATELIMIT_ORDER_RPS" default:"5"`
	OrderBurst          int     `envconfig:"RATELIMIT_ORDER_BURST" default:"5"`
	InfoCallsPerSecond  float64 `envconfig:"RATELIMIT_INFO_RPS" default:"10"`
	InfoBurst           int     `envconfig:"RATELIMIT_INFO_BURST" default:"10"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}

// Buckets holds the two independent limiters. Order-class calls
// (send/cancel) and info-class calls (list/board) never share a bucket: a
// burst of polling must not starve a pending cancel, and vice versa.
type Buckets struct {
	Order   *rate.Limiter
	Info    *rate.Limiter
	metrics *metrics.Registry
}

func New(cfg Config) *Buckets {
	return &Buckets{
		Order: rate.NewLimiter(rate.Limit(cfg.OrderCallsPerSecond), cfg.OrderBurst),
		Info:  rate.NewLimiter(rate.Limit(cfg.InfoCallsPerSecond), cfg.InfoBurst),
	}
}

// SetMetrics wires a Registry in after construction so every package that
// builds a Buckets in tests can ignore metrics entirely (nil is a no-op).
func (b *Buckets) SetMetrics(r *metrics.Registry) { b.metrics = r }

func (b *Buckets) WaitOrder(ctx context.Context) error {
	start := time.Now()
	err := b.Order.Wait(ctx)
	b.observe("order", time.Since(start))
	return err
}

func (b *Buckets) WaitInfo(ctx context.Context) error {
	start := time.Now()
	err := b.Info.Wait(ctx)
	b.observe("info", time.Since(start))
	return err
}

// WaitOrderTimeout bounds the wait so a saturated bucket surfaces as an
// error rather than hanging the caller's poll loop indefinitely.
func (b *Buckets) WaitOrderTimeout(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := b.Order.Wait(ctx)
	b.observe("order", time.Since(start))
	return err
}

func (b *Buckets) observe(bucket string, d time.Duration) {
	if b.metrics == nil {
		return
	}
	b.metrics.RateLimitWaitSeconds.WithLabelValues(bucket).Observe(d.Seconds())
}
