package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "rooms:host-token:"

	// DefaultRetention keeps a host's credentials this long after the last
	// write; every login or refresh extends it.
	DefaultRetention = 30 * 24 * time.Hour

	maxTxRetries = 3
)

// ErrTokenNotFound is returned when no tokens are stored for the user.
var ErrTokenNotFound = errors.New("token not found")

// TokenInfo is a host's Spotify credential.
type TokenInfo struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (t *TokenInfo) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenStore keeps host credentials in Redis. Both the auth middleware and
// the room reconciliation loops write to it.
type TokenStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewTokenStore(client *redis.Client, retention time.Duration) *TokenStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &TokenStore{client: client, retention: retention}
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func tokenKey(userID string) string {
	return keyPrefix + userID
}

func (s *TokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *TokenStore) StoreTokens(ctx context.Context, userID string, token *TokenInfo) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(userID), tokenJSON, s.retention).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *TokenStore) GetTokens(ctx context.Context, userID string) (*TokenInfo, error) {
	return s.get(ctx, s.client, userID)
}

func (s *TokenStore) get(ctx context.Context, c getter, userID string) (*TokenInfo, error) {
	tokenJSON, err := c.Get(ctx, tokenKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token TokenInfo
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

func (s *TokenStore) DeleteToken(ctx context.Context, userID string) error {
	return s.client.Del(ctx, tokenKey(userID)).Err()
}

// RefreshToken swaps the access token and its expiry, keeping the stored
// refresh token. The read-modify-write runs under WATCH so a concurrent
// login is never overwritten with stale data.
func (s *TokenStore) RefreshToken(ctx context.Context, userID string, newAccessToken string, newExpiresAt time.Time) error {
	key := tokenKey(userID)
	update := func(tx *redis.Tx) error {
		token, err := s.get(ctx, tx, userID)
		if err != nil {
			return err
		}
		token.AccessToken = newAccessToken
		token.ExpiresAt = newExpiresAt
		tokenJSON, err := json.Marshal(token)
		if err != nil {
			return fmt.Errorf("failed to marshal token: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, tokenJSON, s.retention)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("failed to refresh token for %s: concurrent updates", userID)
}
