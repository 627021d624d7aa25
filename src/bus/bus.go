// Package bus is the non-durable fast-path fan-out from SPEC_FULL.md §2:
// the Store's filled_qty deltas remain the canonical, durable trigger the
// OCO Manager polls for every tick (spec.md §9), but this package lets the
// Watcher nudge the OCO Manager the moment a fill lands instead of waiting
// out the rest of the tick. An in-process channel always carries the
// nudge; a Redis pub/sub channel carries it again for any other process
// sharing the same broker account, grounded on RohanRaikwar-algo-sys-v1's
// internal/store/redis.Writer (same go-redis/redis/v8 client construction
// and ctx-bounded Ping-on-connect).
package bus

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/go-redis/redis/v8"
	logger "github.com/sirupsen/logrus"
)

// ItemFilled is the payload published whenever a persisted transition
// increases a BatchItem's filled_qty (spec.md §4.4/§9).
type ItemFilled struct {
	BatchItemID uint `json:"batch_item_id"`
}

// Bus fans ItemFilled nudges out locally and, if configured, over Redis.
// Publish never blocks the Watcher's poll loop: a full local buffer drops
// the nudge, and a Redis publish error is logged, not returned, since the
// Store's own durable state is what the OCO Manager's next tick falls
// back to either way.
type Bus struct {
	local  chan ItemFilled
	redis  *goredis.Client
	chname string
	log    *logger.Entry
}

// New builds a Bus. When cfg.RedisAddr is empty the bus is in-process
// only, which is all a single-operator deployment needs.
func New(cfg Config, log *logger.Entry) (*Bus, error) {
	b := &Bus{
		local:  make(chan ItemFilled, cfg.LocalBuffer),
		chname: cfg.Channel,
		log:    log,
	}
	if cfg.RedisAddr == "" {
		return b, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	b.redis = client
	return b, nil
}

// Publish nudges every local subscriber and, if configured, every
// process subscribed to the Redis channel.
func (b *Bus) Publish(ctx context.Context, evt ItemFilled) {
	select {
	case b.local <- evt:
	default:
		b.log.WithField("batch_item_id", evt.BatchItemID).Warn("bus local buffer full, dropping fast-path nudge")
	}

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := b.redis.Publish(ctx, b.chname, payload).Err(); err != nil {
		b.log.WithError(err).Warn("publishing fast-path nudge to redis")
	}
}

// Subscribe returns the channel the OCO Manager selects on alongside its
// own tick to react to fills immediately rather than on the next tick.
func (b *Bus) Subscribe() <-chan ItemFilled { return b.local }

// Close releases the Redis connection, if one was opened.
func (b *Bus) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}
