// Package redis mirrors the presence directory into Redis so that other
// services can read who is online without talking to the hub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const writeTimeout = 3 * time.Second

// Options configures the mirror connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Key names both the set holding online identities and the pub/sub channel
	// receiving the JSON list after every change.
	Key string
}

// PresenceMirror writes the latest online list to Redis. Publish never blocks:
// only the most recent snapshot is kept while a write is in flight.
type PresenceMirror struct {
	client *goredis.Client
	key    string
	log    *zerolog.Logger

	latest chan []string
}

// NewPresenceMirror connects to Redis and verifies the connection.
func NewPresenceMirror(ctx context.Context, opts Options, logger *zerolog.Logger) (*PresenceMirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  writeTimeout,
		WriteTimeout: writeTimeout,
		DialTimeout:  writeTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return newMirror(client, opts.Key, logger), nil
}

func newMirror(client *goredis.Client, key string, logger *zerolog.Logger) *PresenceMirror {
	return &PresenceMirror{
		client: client,
		key:    key,
		log:    logger,
		latest: make(chan []string, 1),
	}
}

// Publish records users as the current snapshot.
func (m *PresenceMirror) Publish(users []string) {
	snapshot := append([]string(nil), users...)
	for {
		select {
		case m.latest <- snapshot:
			return
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-m.latest:
		default:
		}
	}
}

// Run drains snapshots until ctx is done, then clears the online set.
func (m *PresenceMirror) Run(ctx context.Context) error {
	for {
		select {
		case users := <-m.latest:
			if err := m.write(ctx, users); err != nil {
				m.log.Warn().Err(err).Int("users", len(users)).Msg("presence mirror write failed")
			}
		case <-ctx.Done():
			clearCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			if err := m.client.Del(clearCtx, m.key).Err(); err != nil {
				m.log.Warn().Err(err).Msg("presence mirror clear failed")
			}
			return nil
		}
	}
}

func (m *PresenceMirror) write(ctx context.Context, users []string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	payload, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, m.key)
		if len(users) > 0 {
			members := make([]any, len(users))
			for i, u := range users {
				members[i] = u
			}
			pipe.SAdd(ctx, m.key, members...)
		}
		pipe.Publish(ctx, m.key, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis presence tx: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (m *PresenceMirror) Close() error {
	return m.client.Close()
}
