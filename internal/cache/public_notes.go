package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notes-server/internal/domain"
	"notes-server/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	keyPrefix = "public_note:"

	// Stored in place of a deleted note. Not valid JSON, so it never
	// collides with an encoded NoteResponse.
	tombstone = "deleted"
)

// PublicNotes is a Redis read-through cache of published notes keyed by
// share token. Failures are logged and reported as misses. Fills never
// overwrite an existing key, so a tombstone written by Forget keeps a
// deleted note from being cached again by a read that raced the delete.
type PublicNotes struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewPublicNotes connects to redisURL (redis://[user:pass@]host:port/db) and
// checks the connection before returning.
func NewPublicNotes(ctx context.Context, redisURL string, ttl time.Duration, log zerolog.Logger) (*PublicNotes, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &PublicNotes{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "public_note_cache").Logger(),
	}, nil
}

func key(token string) string {
	return keyPrefix + token
}

// Get returns a hit with a nil note when the token was forgotten.
func (c *PublicNotes) Get(ctx context.Context, token string) (*domain.NoteResponse, bool) {
	data, err := c.client.Get(ctx, key(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("cache read failed")
			metrics.PublicCacheLookups.WithLabelValues("error").Inc()
			return nil, false
		}
		metrics.PublicCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	if string(data) == tombstone {
		metrics.PublicCacheLookups.WithLabelValues("deleted").Inc()
		return nil, true
	}

	var note domain.NoteResponse
	if err := json.Unmarshal(data, &note); err != nil {
		c.log.Warn().Err(err).Msg("dropping undecodable cache entry")
		c.Invalidate(ctx, token)
		metrics.PublicCacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}

	metrics.PublicCacheLookups.WithLabelValues("hit").Inc()
	return &note, true
}

func (c *PublicNotes) Set(ctx context.Context, token string, note *domain.NoteResponse) {
	data, err := json.Marshal(note)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to encode cache entry")
		return
	}

	if err := c.client.SetNX(ctx, key(token), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache write failed")
	}
}

func (c *PublicNotes) Invalidate(ctx context.Context, token string) {
	if err := c.client.Del(ctx, key(token)).Err(); err != nil {
		c.log.Warn().Err(err).Str("token", token).Msg("cache invalidation failed")
	}
}

// Forget marks token as deleted for one TTL. Any fill that started before
// the delete finds the key taken and is dropped.
func (c *PublicNotes) Forget(ctx context.Context, token string) {
	if err := c.client.Set(ctx, key(token), tombstone, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("token", token).Msg("cache tombstone write failed")
	}
}

func (c *PublicNotes) Close() error {
	return c.client.Close()
}
