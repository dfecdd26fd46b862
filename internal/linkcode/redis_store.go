// Package linkcode stores the short, single-use codes that add a user to a
// project.
package linkcode

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	Alphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength  = 6
	maxAttempts = 5
)

var (
	ErrNotFound  = errors.New("link code not found or expired")
	ErrExhausted = errors.New("could not allocate a unique link code")
)

// Grant is what a redeemed code gives its holder.
type Grant struct {
	ProjectID string    `json:"project_id"`
	Role      string    `json:"role"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisStore keeps codes as keys with a TTL equal to their lifetime.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	generate func() (string, error)
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   "linkcode:",
		generate: Generate,
	}
}

func (s *RedisStore) key(code string) string {
	return s.prefix + code
}

// Create allocates a fresh code for grant, retrying on collision.
func (s *RedisStore) Create(ctx context.Context, grant Grant) (string, error) {
	ttl := time.Until(grant.ExpiresAt)
	if ttl <= 0 {
		return "", fmt.Errorf("link code already expired at %s", grant.ExpiresAt.Format(time.RFC3339))
	}

	payload, err := json.Marshal(grant)
	if err != nil {
		return "", fmt.Errorf("marshal link code: %w", err)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", err
		}
		ok, err := s.client.SetNX(ctx, s.key(code), payload, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("save link code: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// Redeem consumes the code. A code can be redeemed exactly once.
func (s *RedisStore) Redeem(ctx context.Context, code string) (Grant, error) {
	code = Normalize(code)
	payload, err := s.client.GetDel(ctx, s.key(code)).Result()
	if errors.Is(err, redis.Nil) {
		return Grant{}, ErrNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("redeem link code: %w", err)
	}

	return decodeGrant(payload)
}

// Lookup reads the code's grant without consuming it.
func (s *RedisStore) Lookup(ctx context.Context, code string) (Grant, error) {
	payload, err := s.client.Get(ctx, s.key(Normalize(code))).Result()
	if errors.Is(err, redis.Nil) {
		return Grant{}, ErrNotFound
	}
	if err != nil {
		return Grant{}, fmt.Errorf("lookup link code: %w", err)
	}
	return decodeGrant(payload)
}

// Active is an outstanding code together with its grant.
type Active struct {
	Code string `json:"code"`
	Grant
}

// List scans for the project's outstanding codes, newest first.
func (s *RedisStore) List(ctx context.Context, projectID string) ([]Active, error) {
	active := make([]Active, 0)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read link code: %w", err)
		}
		grant, err := decodeGrant(payload)
		if err != nil {
			return nil, err
		}
		if grant.ProjectID != projectID {
			continue
		}
		active = append(active, Active{Code: strings.TrimPrefix(key, s.prefix), Grant: grant})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan link codes: %w", err)
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].Code < active[j].Code
		}
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Revoke deletes code if it belongs to projectID. ErrNotFound covers codes
// that are unknown, expired or issued for another project.
func (s *RedisStore) Revoke(ctx context.Context, projectID, code string) error {
	grant, err := s.Lookup(ctx, code)
	if err != nil {
		return err
	}
	if grant.ProjectID != projectID {
		return ErrNotFound
	}
	deleted, err := s.client.Del(ctx, s.key(Normalize(code))).Result()
	if err != nil {
		return fmt.Errorf("revoke link code: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeGrant(payload string) (Grant, error) {
	var grant Grant
	if err := json.Unmarshal([]byte(payload), &grant); err != nil {
		return Grant{}, fmt.Errorf("unmarshal link code: %w", err)
	}
	return grant, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the connection so other Redis-backed components can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Generate returns a random code drawn from Alphabet.
func Generate() (string, error) {
	var b strings.Builder
	alphabetLen := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generate link code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
