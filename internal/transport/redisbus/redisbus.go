// Package redisbus binds the stream processor to Redis Streams using a
// consumer group (XREADGROUP/XACK) for input and XADD for output.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Default stream topology, mirroring the Kafka topic names.
const (
	DefaultInputStream  = "alert-events"
	DefaultOutputStream = "enriched-alerts-events"
	DefaultGroup        = "alert-enrichment"
)

// Stream entry fields.
const (
	FieldData         = "data"
	FieldSubjectID    = "subjectId"
	FieldEnrichmentID = "enrichment_id"
	FieldSeverity     = "severity"
)

// Client is the subset of *redis.Client used by this package.
type Client interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// NewClient connects to addr and verifies it with PING.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis: addr cannot be empty")
	}
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
