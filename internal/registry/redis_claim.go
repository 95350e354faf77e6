/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const claimKeyPrefix = "relaycore:broadcast:"

// RedisClaim coordinates broadcast-name ownership across RelayCore
// instances sharing a Redis server, adapted from the SET-NX lease
// pattern used for leader election elsewhere: instead of electing one
// leader process, every instance independently leases the names it is
// actively broadcasting, and loses the lease if it stops renewing.
// A lease is renewed only when TryClaim is called again for a name this
// instance already owns. Registry.Register calls it once per
// registration and nothing renews it in the background, so a lease
// lapses LeaseDuration (15s by default) after the claim, even while the
// broadcast is still live.
type RedisClaim struct {
	client        *redis.Client
	instanceID    string
	leaseDuration time.Duration
	logger        zerolog.Logger
}

// RedisClaimConfig configures a RedisClaim.
type RedisClaimConfig struct {
	Addr          string
	Password      string
	DB            int
	InstanceID    string
	LeaseDuration time.Duration
}

// NewRedisClaim connects to Redis and returns a Claimer. It pings the
// server once at construction time so that a misconfigured address
// fails fast at startup rather than on the first broadcast.
func NewRedisClaim(cfg RedisClaimConfig, logger zerolog.Logger) (*RedisClaim, error) {
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 15 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisClaim{
		client:        client,
		instanceID:    cfg.InstanceID,
		leaseDuration: cfg.LeaseDuration,
		logger:        logger.With().Str("component", "registry.redis_claim").Logger(),
	}, nil
}

// TryClaim attempts to acquire the lease on name for this instance with
// SET NX, or renews it when this instance already owns it. The first
// instance to claim a name holds it; claims from other instances are
// refused until the lease expires or is released.
func (c *RedisClaim) TryClaim(name string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := claimKeyPrefix + name
	ok, err := c.client.SetNX(ctx, key, c.instanceID, c.leaseDuration).Result()
	if err != nil {
		c.logger.Error().Err(err).Str("broadcast", name).Msg("claim attempt failed")
		return false
	}
	if ok {
		return true
	}

	owner, err := c.client.Get(ctx, key).Result()
	if err != nil {
		c.logger.Error().Err(err).Str("broadcast", name).Msg("claim lookup failed")
		return false
	}
	if owner != c.instanceID {
		return false
	}

	if err := c.client.Expire(ctx, key, c.leaseDuration).Err(); err != nil {
		c.logger.Error().Err(err).Str("broadcast", name).Msg("claim renewal failed")
		return false
	}
	return true
}

// Release gives up the lease on name, if this instance holds it.
func (c *RedisClaim) Release(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	key := claimKeyPrefix + name
	if err := c.client.Eval(ctx, script, []string{key}, c.instanceID).Err(); err != nil {
		c.logger.Warn().Err(err).Str("broadcast", name).Msg("claim release failed")
	}
}

// Close releases the Redis connection.
func (c *RedisClaim) Close() error {
	return c.client.Close()
}
