package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrEmptyRole     = errors.New("role cannot be empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
)

// Valid roles. An operator may do everything a viewer may.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

var roleRank = map[string]int{
	RoleViewer:   1,
	RoleOperator: 2,
}

// Allows reports whether role grants at least the required role.
func Allows(role, required string) bool {
	have, ok := roleRank[role]
	if !ok {
		return false
	}
	return have >= roleRank[required]
}

// Claims is the validated view of an admin token.
type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates HS256 admin tokens for one cluster.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	issuer        string
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager. issuer is stamped into every
// token and required on validation, so tokens from another cluster using
// the same secret are refused.
func NewJWTManager(secret, issuer string, tokenDuration time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}

	return &JWTManager{
		secretKey:     []byte(secret),
		tokenDuration: tokenDuration,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// GenerateToken generates a new JWT token
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if role == "" {
		return "", ErrEmptyRole
	}
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	now := m.now()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims.
// Implements TokenValidator interface.
func (m *JWTManager) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &tc, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	if _, ok := roleRank[tc.Role]; !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, tc.Role)
	}
	if tc.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing iat", ErrInvalidClaims)
	}

	return &Claims{
		Subject:   tc.Subject,
		Role:      tc.Role,
		TokenID:   tc.ID,
		ExpiresAt: tc.ExpiresAt.Time,
		IssuedAt:  tc.IssuedAt.Time,
	}, nil
}

// Name returns the validator name for logging/debugging.
// Implements TokenValidator interface.
func (m *JWTManager) Name() string {
	return "jwt-hs256"
}

// GetTokenDuration returns the configured token duration
func (m *JWTManager) GetTokenDuration() time.Duration {
	return m.tokenDuration
}
