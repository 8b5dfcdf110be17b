// Package redisstore keeps per-owner session state in Redis.
package redisstore

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DrivenStreams remembers which streams an owner started generating, so a
// client that reloads knows which responses it still drives and which it
// only watches.
type DrivenStreams struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewDrivenStreams(rdb *redis.Client, ttl time.Duration) *DrivenStreams {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DrivenStreams{rdb: rdb, ttl: ttl}
}

func drivenKey(ownerID string) string { return "driven:" + ownerID }

// Add marks streamID as driven by ownerID and refreshes the set's expiry.
func (d *DrivenStreams) Add(ctx context.Context, ownerID, streamID string) error {
	key := drivenKey(ownerID)
	pipe := d.rdb.TxPipeline()
	pipe.SAdd(ctx, key, streamID)
	pipe.Expire(ctx, key, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis add driven stream")
	}
	return nil
}

func (d *DrivenStreams) Remove(ctx context.Context, ownerID, streamID string) error {
	return errors.Wrap(d.rdb.SRem(ctx, drivenKey(ownerID), streamID).Err(), "redis remove driven stream")
}

func (d *DrivenStreams) Clear(ctx context.Context, ownerID string) error {
	return errors.Wrap(d.rdb.Del(ctx, drivenKey(ownerID)).Err(), "redis clear driven streams")
}

func (d *DrivenStreams) IsDriven(ctx context.Context, ownerID, streamID string) (bool, error) {
	ok, err := d.rdb.SIsMember(ctx, drivenKey(ownerID), streamID).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis check driven stream")
	}
	return ok, nil
}

// List returns the owner's driven streams sorted.
func (d *DrivenStreams) List(ctx context.Context, ownerID string) ([]string, error) {
	ids, err := d.rdb.SMembers(ctx, drivenKey(ownerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "redis list driven streams")
	}
	sort.Strings(ids)
	return ids, nil
}

func (d *DrivenStreams) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
