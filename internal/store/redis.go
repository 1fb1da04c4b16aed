package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quotefeed/internal/model"
)

// Redis implements Store on a redis client using plain keys with TTL for
// latest points, sorted sets scored by bar date for history, and a bounded
// list for the alert audit log.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) SetLatest(ctx context.Context, p model.MarketDataPoint, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal point: %w", err)
	}
	if err := r.client.Set(ctx, latestKey(p.Symbol), b, ttl).Err(); err != nil {
		return fmt.Errorf("set latest %s: %w", p.Symbol, err)
	}
	return nil
}

func (r *Redis) Latest(ctx context.Context, symbol string) (*model.MarketDataPoint, error) {
	raw, err := r.client.Get(ctx, latestKey(symbol)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest %s: %w", symbol, err)
	}
	var p model.MarketDataPoint
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal latest %s: %w", symbol, err)
	}
	return &p, nil
}

func (r *Redis) AppendBars(ctx context.Context, symbol string, bars []model.HistoricalDataPoint, retention time.Duration) error {
	if len(bars) == 0 {
		return nil
	}
	key := barsKey(symbol)
	members := make([]redis.Z, 0, len(bars))
	for _, b := range bars {
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal bar: %w", err)
		}
		members = append(members, redis.Z{
			Score:  float64(b.Date.UTC().UnixMilli()),
			Member: string(raw),
		})
	}
	if err := r.client.ZAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	if retention > 0 {
		cutoff := time.Now().UTC().Add(-retention).UnixMilli()
		if err := r.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
			return fmt.Errorf("prune %s: %w", key, err)
		}
	}
	return nil
}

func (r *Redis) Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.HistoricalDataPoint, error) {
	key := barsKey(symbol)
	raws, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UTC().UnixMilli(), 10),
		Max: strconv.FormatInt(to.UTC().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	out := make([]model.HistoricalDataPoint, 0, len(raws))
	for _, raw := range raws {
		var b model.HistoricalDataPoint
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *Redis) Watermark(ctx context.Context, name string) (time.Time, error) {
	raw, err := r.client.Get(ctx, watermarkKey(name)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get watermark %s: %w", name, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark %s: %w", name, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (r *Redis) SetWatermark(ctx context.Context, name string, t time.Time) error {
	if err := r.client.Set(ctx, watermarkKey(name), strconv.FormatInt(t.UTC().UnixMilli(), 10), 0).Err(); err != nil {
		return fmt.Errorf("set watermark %s: %w", name, err)
	}
	return nil
}

func (r *Redis) PushAlert(ctx context.Context, a model.Alert, max int64) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, alertLogKey, b)
	if max > 0 {
		pipe.LTrim(ctx, alertLogKey, 0, max-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push alert: %w", err)
	}
	return nil
}

func (r *Redis) RecentAlerts(ctx context.Context, n int64) ([]model.Alert, error) {
	if n <= 0 {
		n = 50
	}
	raws, err := r.client.LRange(ctx, alertLogKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange alerts: %w", err)
	}
	out := make([]model.Alert, 0, len(raws))
	for _, raw := range raws {
		var a model.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Redis) SetHealthSnapshot(ctx context.Context, s model.SystemHealth, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}
	if err := r.client.Set(ctx, healthKey, b, ttl).Err(); err != nil {
		return fmt.Errorf("set health snapshot: %w", err)
	}
	return nil
}

func (r *Redis) HealthSnapshot(ctx context.Context) (*model.SystemHealth, error) {
	raw, err := r.client.Get(ctx, healthKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get health snapshot: %w", err)
	}
	var s model.SystemHealth
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("unmarshal health snapshot: %w", err)
	}
	return &s, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RoundTrip measures one write+read cycle against a probe key.
func (r *Redis) RoundTrip(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	val := strconv.FormatInt(start.UnixNano(), 10)
	if err := r.client.Set(ctx, probeKey, val, time.Minute).Err(); err != nil {
		return time.Since(start), fmt.Errorf("probe write: %w", err)
	}
	got, err := r.client.Get(ctx, probeKey).Result()
	if err != nil {
		return time.Since(start), fmt.Errorf("probe read: %w", err)
	}
	if got != val {
		return time.Since(start), fmt.Errorf("probe mismatch")
	}
	return time.Since(start), nil
}
