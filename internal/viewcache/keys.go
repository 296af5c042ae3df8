package viewcache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cadence/internal/logging"
)

// Key families for derived views. Detail and status keys are dropped
// individually; list and statistics keys embed a family generation counter,
// so bumping the generation retires every fingerprint variant at once
// without backend wildcard scans.
const (
	trackListGenKey  = "tracks:list:gen"
	queueStatsGenKey = "queues:stats:gen"
)

// TrackDetailKey is the derived-view key for one track's full detail.
func TrackDetailKey(id int64) string {
	return fmt.Sprintf("track:detail:%d", id)
}

// TrackStatusKey is the derived-view key for one track's status projection.
func TrackStatusKey(id int64) string {
	return fmt.Sprintf("track:status:%d", id)
}

// Invalidator drops derived-view keys after mutations. Only the lifecycle
// manager and the batch upload orchestrator call it; cache failures are
// logged and never abort the caller's mutation.
type Invalidator struct {
	store  Store
	logger *slog.Logger
}

// NewInvalidator wires an invalidator to the cache store.
func NewInvalidator(store Store, logger *slog.Logger) *Invalidator {
	return &Invalidator{
		store:  store,
		logger: logging.WithComponent(logger, "viewcache"),
	}
}

// InvalidateTrack drops the track's detail and status keys and retires the
// list/statistics key family. Coarse on purpose: correctness over precision.
func (i *Invalidator) InvalidateTrack(ctx context.Context, id int64) {
	if i == nil || i.store == nil {
		return
	}
	for _, key := range []string{TrackDetailKey(id), TrackStatusKey(id)} {
		if err := i.store.Forget(ctx, key); err != nil {
			i.logger.Warn("cache forget failed", logging.String("key", key), logging.Error(err))
		}
	}
	if _, err := i.store.IncrementCounter(ctx, trackListGenKey); err != nil {
		i.logger.Warn("cache generation bump failed", logging.String("key", trackListGenKey), logging.Error(err))
	}
}

// InvalidateQueueStats retires all cached queue statistics.
func (i *Invalidator) InvalidateQueueStats(ctx context.Context) {
	if i == nil || i.store == nil {
		return
	}
	if _, err := i.store.IncrementCounter(ctx, queueStatsGenKey); err != nil {
		i.logger.Warn("cache generation bump failed", logging.String("key", queueStatsGenKey), logging.Error(err))
	}
}

// TrackListKey builds a generation-scoped list key for a filter fingerprint.
func (i *Invalidator) TrackListKey(ctx context.Context, fingerprint string) string {
	return generationKey(ctx, i.store, trackListGenKey, "tracks:list", fingerprint)
}

// QueueStatsKey builds a generation-scoped statistics key for a queue.
func (i *Invalidator) QueueStatsKey(ctx context.Context, queueName string) string {
	return generationKey(ctx, i.store, queueStatsGenKey, "queue:stats", queueName)
}

func generationKey(ctx context.Context, store Store, genKey, prefix, suffix string) string {
	var generation int64
	if store != nil {
		if raw, ok, err := store.Get(ctx, genKey); err == nil && ok {
			generation, _ = strconv.ParseInt(string(raw), 10, 64)
		}
	}
	return fmt.Sprintf("%s:g%d:%s", prefix, generation, suffix)
}

// Fetch is the read-through helper: it returns the cached value when present
// and otherwise computes, stores, and returns a fresh one. Any cache failure
// degrades to direct computation.
func Fetch(ctx context.Context, store Store, logger *slog.Logger, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if store != nil {
		if value, ok, err := store.Get(ctx, key); err == nil && ok {
			return value, nil
		} else if err != nil && logger != nil {
			logger.Warn("cache get failed", logging.String("key", key), logging.Error(err))
		}
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if store != nil {
		if err := store.Put(ctx, key, value, ttl); err != nil && logger != nil {
			logger.Warn("cache put failed", logging.String("key", key), logging.Error(err))
		}
	}
	return value, nil
}
