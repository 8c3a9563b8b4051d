package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ProviderLocal = "local"
	ProviderKakao = "kakao"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity carried by a session token.
// SubjectID is the user id for local accounts and the Kakao account id for kakao accounts.
type Claims struct {
	SubjectID string
	Provider  string
}

type tokenClaims struct {
	UserType string `json:"userType"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TokenService) Issue(c Claims) (string, error) {
	if c.SubjectID == "" {
		return "", fmt.Errorf("issue token: empty subject")
	}
	now := s.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserType: c.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return tok.SignedString(s.secret)
}

// Verify checks signature and expiry and returns the subject and provider.
func (s *TokenService) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	provider := tc.UserType
	if provider == "" {
		provider = ProviderLocal
	}
	return Claims{SubjectID: tc.Subject, Provider: provider}, nil
}
