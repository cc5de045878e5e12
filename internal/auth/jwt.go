package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

const issuer = "dealroom"

// Identity is an authenticated marketplace user
type Identity struct {
	UserID string
	Role   entity.Role
}

// Claims are the JWT claims of an access token
type Claims struct {
	UserID string      `json:"user_id"`
	Role   entity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service issues and checks HS256 access tokens
type Service struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a JWT service
func NewService(secretKey string, ttl time.Duration) *Service {
	return &Service{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue signs an access token for an identity
func (s *Service) Issue(id Identity) (string, time.Time, error) {
	if id.UserID == "" || !id.Role.IsValid() {
		return "", time.Time{}, ErrTokenInvalid
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &Claims{
		UserID: id.UserID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Check validates a token and returns the identity it carries
func (s *Service) Check(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrTokenInvalid
	}
	if claims.UserID == "" || !claims.Role.IsValid() {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}
