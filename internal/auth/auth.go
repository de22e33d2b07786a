package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrUnauthenticated is returned for missing, unknown or expired tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the verified-identity record the external session store holds
// for a token. The server trusts it as-is; token issuance and signature
// checks happen elsewhere.
type Identity struct {
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	Role       string `json:"role,omitempty"`
}

// Verifier resolves a session token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

const sessionKeyPrefix = "session:"

// RedisVerifier reads session records written by the identity provider.
// Expiry is the store's concern: an expired session is simply an absent key.
type RedisVerifier struct {
	client *redis.Client
}

func NewRedisVerifier(client *redis.Client) *RedisVerifier {
	return &RedisVerifier{client: client}
}

func (v *RedisVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	raw, err := v.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return nil, fmt.Errorf("%w: unreadable session record", ErrUnauthenticated)
	}
	if id.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return &id, nil
}

// StaticVerifier serves a fixed token set. Used in dev mode and tests.
type StaticVerifier struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{tokens: make(map[string]Identity)}
}

func (v *StaticVerifier) Add(token string, id Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = id
}

func (v *StaticVerifier) Revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, token)
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	id, ok := v.tokens[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return &id, nil
}
