// Package auth issues and checks bearer tokens for the admin API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
	ErrInsufficient  = errors.New("insufficient role")
	ErrMissingBearer = errors.New("missing bearer token")
)

// Roles. An operator may change the active set; a viewer may only read it.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// rank orders roles so a higher role satisfies a lower requirement.
var rank = map[string]int{
	RoleViewer:   1,
	RoleOperator: 2,
}

// DefaultTokenDuration is the lifetime of issued tokens.
const DefaultTokenDuration = 24 * time.Hour

// Claims are the token claims.
type Claims struct {
	Role      string `json:"role"`
	ClusterID string `json:"cluster_id"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims satisfy the required role.
func (c *Claims) Allows(required string) bool {
	return rank[c.Role] >= rank[required]
}

// JWTManager signs and validates HS256 tokens scoped to one cluster.
type JWTManager struct {
	secretKey     []byte
	clusterID     string
	tokenDuration time.Duration
	now           func() time.Time
}

// NewJWTManager creates a JWT manager. The secret must be at least 32
// characters.
func NewJWTManager(secret, clusterID string, tokenDuration time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if tokenDuration <= 0 {
		tokenDuration = DefaultTokenDuration
	}
	return &JWTManager{
		secretKey:     []byte(secret),
		clusterID:     clusterID,
		tokenDuration: tokenDuration,
		now:           time.Now,
	}, nil
}

// GenerateToken issues a token for subject with the given role.
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if _, ok := rank[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := m.now()
	claims := Claims{
		Role:      role,
		ClusterID: m.clusterID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ValidateToken checks the signature, expiry and cluster scope of a token.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ClusterID != m.clusterID {
		return nil, fmt.Errorf("%w: issued for cluster %q", ErrInvalidToken, claims.ClusterID)
	}
	if _, ok := rank[claims.Role]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}
	return &claims, nil
}
