// Package tokens mints and validates the signed plane-scoped credentials
// that bind an actor to a subset of planes for a bounded lifetime. Agent
// credentials additionally carry a use budget enforcing single-task
// consumption; decrementing the budget is the caller's responsibility at
// the point of successful use.
package tokens

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vaultkit.org/internal/vault"
)

const (
	issuer            = "vaultkit"
	secretEnvVariable = "VAULT_TOKEN_SECRET"
)

var (
	errMissingSecret = errors.New("token secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the credential failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload of a plane token.
type Claims struct {
	ActorType     vault.ActorType `json:"actor_type"`
	Planes        []vault.Plane   `json:"planes"`
	PrincipalID   string          `json:"principal_id,omitempty"`
	Model         string          `json:"model,omitempty"`
	MaxUses       *int            `json:"max_uses,omitempty"`
	UsesRemaining *int            `json:"uses_remaining,omitempty"`
	jwt.RegisteredClaims
}

// MintOptions enumerates every recognized minting option and its default.
type MintOptions struct {
	// Uses is the agent use budget; nil selects the single-task default of
	// 1 for agents and no budget for every other actor type.
	Uses *int
}

// Mint signs a plane token for the actor using HS256. The requested planes
// must be a subset of the planes the actor may ever hold.
func Mint(actor vault.Actor, planes []vault.Plane, ttl time.Duration, opts MintOptions) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", errors.New("actor id is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	if len(planes) == 0 {
		return "", errors.New("at least one plane is required")
	}
	for _, p := range planes {
		if !p.Known() {
			return "", fmt.Errorf("unknown plane %q", p)
		}
		if !actorHoldsPlane(actor, p) {
			return "", fmt.Errorf("actor %s may not hold plane %s", actor.ID, p)
		}
	}
	if actor.Type == vault.ActorAgent && strings.TrimSpace(actor.Principal) == "" {
		return "", errors.New("agent actors require a principal")
	}

	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	var maxUses, usesRemaining *int
	if actor.Type == vault.ActorAgent {
		n := 1
		if opts.Uses != nil {
			if *opts.Uses <= 0 {
				return "", errors.New("agent use budget must be positive")
			}
			n = *opts.Uses
		}
		budget := n
		remaining := n
		maxUses, usesRemaining = &budget, &remaining
	}

	now := time.Now().UTC()
	claims := Claims{
		ActorType:     actor.Type,
		Planes:        planes,
		PrincipalID:   actor.Principal,
		Model:         actor.Model,
		MaxUses:       maxUses,
		UsesRemaining: usesRemaining,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the signature and claims and returns the
// domain credential the guards operate on.
func ParseAndValidate(token string) (vault.Token, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return vault.Token{}, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return vault.Token{}, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return vault.Token{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return vault.Token{}, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return vault.Token{}, ErrInvalidToken
	}

	return vault.Token{
		ActorID:       claims.Subject,
		ActorType:     claims.ActorType,
		Planes:        claims.Planes,
		IssuedAt:      claims.IssuedAt.Time,
		ExpiresAt:     claims.ExpiresAt.Time,
		MaxUses:       claims.MaxUses,
		UsesRemaining: claims.UsesRemaining,
		PrincipalID:   claims.PrincipalID,
	}, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if len(claims.Planes) == 0 {
		return errors.New("planes missing")
	}
	for _, p := range claims.Planes {
		if !p.Known() {
			return fmt.Errorf("unknown plane %q", p)
		}
	}
	if claims.ActorType == vault.ActorAgent && strings.TrimSpace(claims.PrincipalID) == "" {
		return errors.New("agent token without principal")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func actorHoldsPlane(actor vault.Actor, p vault.Plane) bool {
	for _, held := range actor.Planes {
		if held == p {
			return true
		}
	}
	return false
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret = cachedSecret{err: errMissingSecret, ready: true}
		return nil, secret.err
	}
	secret = cachedSecret{value: []byte(raw), ready: true}
	return secret.value, nil
}

// resetSecretCache drops the cached signing secret so the next call
// re-reads the environment. Test hook.
func resetSecretCache() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}
