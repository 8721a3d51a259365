package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps a per-game hash of participant presence so other
// processes can read who is online.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds the mirror's connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // idle games expire after this
}

// NewRedisMirror connects and pings Redis.
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = "reflex:presence"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &RedisMirror{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (m *RedisMirror) key(gameID uuid.UUID) string {
	return m.prefix + ":" + gameID.String()
}

// MirrorPresence writes the participant's status into the game hash.
func (m *RedisMirror) MirrorPresence(ctx context.Context, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	key := m.key(status.GameID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, status.ParticipantID.String(), data)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write presence: %w", err)
	}
	return nil
}

// Load reads every mirrored participant of a game.
func (m *RedisMirror) Load(ctx context.Context, gameID uuid.UUID) ([]Status, error) {
	fields, err := m.client.HGetAll(ctx, m.key(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	out := make([]Status, 0, len(fields))
	for field, raw := range fields {
		var s Status
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode presence for %s: %w", field, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Close releases the client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
