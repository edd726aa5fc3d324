// Package cache keeps recent extraction results in redis so repeated requests
// for the same account do not relaunch a browser.
package cache

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second

	keyPrefix = "kepco:records:"
)

// ErrMiss is returned by Get when nothing is cached for a key.
var ErrMiss = errors.New("cache miss")

// Client is the subset of *redis.Client the store needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient returns a configured go-redis client and validates the connection with PING.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// ErrNoSecret is returned by NewStore without a key secret.
var ErrNoSecret = errors.New("cache: key secret is empty")

// Store caches record lists per portal, credentials and mode.
type Store struct {
	client Client
	ttl    time.Duration
	secret []byte
}

// NewStore returns redis-backed store. secret keys the HMAC that derives
// entry names from credentials.
func NewStore(client Client, ttl time.Duration, secret []byte) (*Store, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return &Store{client: client, ttl: ttl, secret: secret}, nil
}

// Key derives the cache key as an HMAC-SHA256 under the store secret. Every
// credential goes into the MAC so a hit requires the same password, and
// without the secret a key cannot be tested against guessed passwords.
func (s *Store) Key(portal string, req schemas.FetchRequest, mode string) string {
	mac := hmac.New(sha256.New, s.secret)
	for _, part := range []string{portal, req.UserID, req.UserPw, req.UserNum, mode} {
		mac.Write([]byte(part))
		mac.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(mac.Sum(nil))
}

// Save caches records under key.
func (s *Store) Save(ctx context.Context, key string, records []schemas.BillingRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

// Get returns cached records, or ErrMiss.
func (s *Store) Get(ctx context.Context, key string) ([]schemas.BillingRecord, error) {
	result, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var records []schemas.BillingRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return records, nil
}

// Delete removes a cached entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
