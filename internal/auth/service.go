package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "trunkwatch"
)

// Config for the token service. Tokens are HS256 signed with JWTSecret.
type Config struct {
	JWTSecret string        `json:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl" mapstructure:"token_ttl"`
}

// Claims represents JWT claims
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Service issues and verifies bearer tokens for the control API.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Service{secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL, now: time.Now}, nil
}

// Issue signs a token for subject carrying roles.
func (s *Service) Issue(subject string, roles []string) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: tokenString, ExpiresAt: expiresAt}, nil
}

// Verify validates signature, algorithm, issuer and expiry.
func (s *Service) Verify(tokenString string) (*Result, error) {
	if tokenString == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return &Result{Success: false}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	return &Result{Success: true, Subject: claims.Subject, Roles: claims.Roles}, nil
}
