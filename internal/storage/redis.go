package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/piwi3910/webapp/internal/config"
)

const (
	// Redis key suffixes under the store prefix
	userKeySuffix  = ":user:"
	emailKeySuffix = ":email:"
	indexKeySuffix = ":index"

	// Default prefix for user keys
	defaultUserKeyPrefix = "users"
)

// NewRedisClient creates the Redis client shared by the user store, the rate
// limiter and the event publisher.
func NewRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

// RedisStore implements the Store interface using Redis as the backend.
//
// Data Model:
//   - <prefix>:user:<id> (string) - User JSON
//   - <prefix>:email:<email> (string) - Owning user ID, claimed with SETNX
//   - <prefix>:index (sorted set) - User IDs scored by creation time
//
// The client is owned by the caller; Close does not close it.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new RedisStore on an existing client.
// An empty prefix defaults to "users".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultUserKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) userKey(id string) string     { return r.prefix + userKeySuffix + id }
func (r *RedisStore) emailKey(email string) string { return r.prefix + emailKeySuffix + emailKey(email) }
func (r *RedisStore) indexKey() string             { return r.prefix + indexKeySuffix }

// Create stores a new user in Redis.
// Returns ErrEmailExists if the email is already claimed by another user.
func (r *RedisStore) Create(ctx context.Context, user *User) error {
	if err := validateUser(user); err != nil {
		return err
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	// Claim the email first so concurrent creates cannot both succeed
	claimed, err := r.client.SetNX(ctx, r.emailKey(user.Email), user.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !claimed {
		return ErrEmailExists
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.userKey(user.ID), data, 0)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(user.CreatedAt.UnixNano()),
		Member: user.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		// Release the claim so the email can be retried
		r.client.Del(context.WithoutCancel(ctx), r.emailKey(user.Email))
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// Get retrieves a user by ID.
func (r *RedisStore) Get(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}

	data, err := r.client.Get(ctx, r.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

// List returns a page of users ordered by creation time.
func (r *RedisStore) List(ctx context.Context, offset, limit int) ([]*User, error) {
	if limit <= 0 || offset < 0 {
		return []*User{}, nil
	}

	ids, err := r.client.ZRange(ctx, r.indexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user IDs: %w", err)
	}
	if len(ids) == 0 {
		return []*User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.userKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	users := make([]*User, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Index entry without data
			continue
		}
		var user User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			continue
		}
		users = append(users, &user)
	}

	return users, nil
}

// Count returns the number of indexed users.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return int(n), nil
}

// Ping checks if Redis is available.
// Returns ErrStorageUnavailable if Redis cannot be reached.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (r *RedisStore) Close() error {
	return nil
}
