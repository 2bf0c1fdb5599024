// Package auth authenticates registry callers from signed bearer tokens.
//
// A caller token is an EdDSA JWT whose subject is the caller's address. The
// server verifies issuer, audience and expiry against an ed25519 public key;
// registryctl mints tokens with the matching private key.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/vehicle-registry/internal/platform/errors"
	"github.com/louisbranch/vehicle-registry/internal/platform/id"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
)

// callerTokenEnv holds raw env values before post-parse validation.
type callerTokenEnv struct {
	Issuer    string `env:"VEHICLE_REGISTRY_CALLER_TOKEN_ISSUER" envDefault:"vehicle-registry"`
	Audience  string `env:"VEHICLE_REGISTRY_CALLER_TOKEN_AUDIENCE" envDefault:"vehicle-registry"`
	PublicKey string `env:"VEHICLE_REGISTRY_CALLER_TOKEN_PUBLIC_KEY"`
}

// signerEnv holds the minting side of the caller token configuration.
type signerEnv struct {
	Issuer     string `env:"VEHICLE_REGISTRY_CALLER_TOKEN_ISSUER" envDefault:"vehicle-registry"`
	Audience   string `env:"VEHICLE_REGISTRY_CALLER_TOKEN_AUDIENCE" envDefault:"vehicle-registry"`
	PrivateKey string `env:"VEHICLE_REGISTRY_CALLER_TOKEN_PRIVATE_KEY"`
}

// Config defines how caller tokens are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// SignerConfig defines how caller tokens are minted.
type SignerConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	Now      func() time.Time
}

// Claims captures validated caller token claims.
type Claims struct {
	Caller    domain.Address
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
	JWTID     string
}

// LoadConfigFromEnv reads caller token verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw callerTokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse caller token env: %w", err)
	}
	publicKey := strings.TrimSpace(raw.PublicKey)
	if publicKey == "" {
		return Config{}, fmt.Errorf("VEHICLE_REGISTRY_CALLER_TOKEN_PUBLIC_KEY is required")
	}
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Key:      key,
		Now:      now,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadSignerConfigFromEnv reads caller token minting configuration.
func LoadSignerConfigFromEnv(now func() time.Time) (SignerConfig, error) {
	var raw signerEnv
	if err := env.Parse(&raw); err != nil {
		return SignerConfig{}, fmt.Errorf("parse caller token env: %w", err)
	}
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if privateKey == "" {
		return SignerConfig{}, fmt.Errorf("VEHICLE_REGISTRY_CALLER_TOKEN_PRIVATE_KEY is required")
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return SignerConfig{}, err
	}
	return SignerConfig{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Key:      key,
		Now:      now,
	}, nil
}

func (c Config) validate() error {
	if c.Issuer == "" || c.Audience == "" {
		return errors.New("caller token issuer and audience are required")
	}
	if len(c.Key) != ed25519.PublicKeySize {
		return fmt.Errorf("caller token public key must be %d bytes", ed25519.PublicKeySize)
	}
	return nil
}

type callerTokenClaims struct {
	jwt.RegisteredClaims
}

// MintToken signs a caller token for subject valid for ttl.
func MintToken(cfg SignerConfig, subject domain.Address, ttl time.Duration) (string, error) {
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("caller token private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return "", errors.New("caller token issuer and audience are required")
	}
	if subject == "" {
		return "", errors.New("caller token subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("caller token ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	jti, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	now := cfg.Now().UTC()
	claims := callerTokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   subject.String(),
		Audience:  jwt.ClaimStrings{cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        jti,
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign caller token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies token and returns its claims.
func ValidateToken(token string, cfg Config) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, unauthenticated("caller token is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := cfg.validate(); err != nil {
		return Claims{}, fmt.Errorf("caller token verifier is not configured: %w", err)
	}

	var parsed callerTokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer != cfg.Issuer {
		return Claims{}, unauthenticated("caller token issuer mismatch")
	}
	if !slices.Contains(parsed.Audience, cfg.Audience) {
		return Claims{}, unauthenticated("caller token audience mismatch")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, unauthenticated("caller token exp is required")
	}
	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, unauthenticated("caller token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, unauthenticated("caller token not active yet")
	}
	caller, err := domain.ParseAddress(parsed.Subject)
	if err != nil {
		return Claims{}, unauthenticated(fmt.Sprintf("caller token subject: %v", err))
	}

	claims := Claims{
		Caller:    caller,
		Issuer:    parsed.Issuer,
		ExpiresAt: exp,
		JWTID:     parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return unauthenticated("caller token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return unauthenticated("caller token alg is invalid")
	}
	return unauthenticated("caller token is invalid")
}

func unauthenticated(message string) error {
	return apperrors.New(apperrors.CodeUnauthenticated, message)
}

// GenerateKeyPair returns a new ed25519 key pair encoded for the env variables.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 key: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(pub), base64.RawStdEncoding.EncodeToString(priv), nil
}

// ParsePublicKey decodes a base64 ed25519 public key.
func ParsePublicKey(value string) (ed25519.PublicKey, error) {
	keyBytes, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode caller token public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("caller token public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(keyBytes), nil
}

// ParsePrivateKey decodes a base64 ed25519 private key or 32-byte seed.
func ParsePrivateKey(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode caller token private key: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(keyBytes), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(keyBytes), nil
	default:
		return nil, fmt.Errorf("caller token private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
