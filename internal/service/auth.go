package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
)

const stateTTL = 10 * time.Minute

var (
	ErrNoSession      = errors.New("no session")
	ErrSessionExpired = errors.New("session expired")
)

// AuthService verifies the UI session cookie and signs the connect-flow state parameter.
// Both are HS256 tokens keyed by the cookie secret.
type AuthService interface {
	UserFromSession(value string) (*model.User, error)
	SignSession(user model.User, ttl time.Duration) (string, error)
	SignState(kind model.ProviderKind, user model.User) (string, error)
	ValidateState(kind model.ProviderKind, state string) (int64, error)
}

type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type stateClaims struct {
	Provider model.ProviderKind `json:"provider"`
	jwt.RegisteredClaims
}

type authService struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

func NewAuthService(secret string, now func() time.Time) AuthService {
	if now == nil {
		now = time.Now
	}
	return &authService{
		secret: []byte(secret),
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (s *authService) UserFromSession(value string) (*model.User, error) {
	if value == "" {
		return nil, ErrNoSession
	}

	var claims sessionClaims
	if _, err := s.parser.ParseWithClaims(value, &claims, s.key); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	if !claims.VerifyExpiresAt(s.now(), true) {
		return nil, ErrSessionExpired
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("invalid session subject %q", claims.Subject)
	}
	return &model.User{ID: userID, Email: claims.Email}, nil
}

func (s *authService) SignSession(user model.User, ttl time.Duration) (string, error) {
	now := s.now()
	claims := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing session: %w", err)
	}
	return signed, nil
}

func (s *authService) SignState(kind model.ProviderKind, user model.User) (string, error) {
	now := s.now()
	claims := stateClaims{
		Provider: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// ValidateState returns the user id the state was issued to.
func (s *authService) ValidateState(kind model.ProviderKind, state string) (int64, error) {
	if state == "" {
		return 0, fmt.Errorf("%w: missing state", provider.ErrBadSignature)
	}

	var claims stateClaims
	if _, err := s.parser.ParseWithClaims(state, &claims, s.key); err != nil {
		return 0, fmt.Errorf("%w: %v", provider.ErrBadSignature, err)
	}
	if !claims.VerifyExpiresAt(s.now(), true) || claims.Provider != kind {
		return 0, provider.ErrBadSignature
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, provider.ErrBadSignature
	}
	return userID, nil
}

func (s *authService) key(*jwt.Token) (any, error) {
	return s.secret, nil
}
