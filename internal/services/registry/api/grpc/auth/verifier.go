package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
)

const cacheCleanupInterval = 5 * time.Minute

// TokenVerifier authenticates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Verifier validates caller tokens and memoizes accepted ones until expiry.
type Verifier struct {
	cfg   Config
	cache *cache.Cache
}

// NewVerifier builds a Verifier for cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{
		cfg:   cfg,
		cache: cache.New(cache.NoExpiration, cacheCleanupInterval),
	}, nil
}

// Verify returns the claims of token. Rejected tokens are never cached.
func (v *Verifier) Verify(_ context.Context, token string) (Claims, error) {
	key := cacheKey(token)
	if cached, ok := v.cache.Get(key); ok {
		claims := cached.(Claims)
		if claims.ExpiresAt.After(v.cfg.Now().UTC()) {
			return claims, nil
		}
		v.cache.Delete(key)
	}

	claims, err := ValidateToken(token, v.cfg)
	if err != nil {
		return Claims{}, err
	}
	if ttl := claims.ExpiresAt.Sub(v.cfg.Now().UTC()); ttl > 0 {
		v.cache.Set(key, claims, ttl)
	}
	return claims, nil
}

// cached returns the number of memoized tokens.
func (v *Verifier) cached() int {
	return v.cache.ItemCount()
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
