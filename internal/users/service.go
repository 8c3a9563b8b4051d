package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ariefcatur/gift-orders/internal/auth"
	"github.com/ariefcatur/gift-orders/internal/kakao"
	"golang.org/x/crypto/bcrypt"
)

// KakaoAuth is the part of the Kakao API used for login.
type KakaoAuth interface {
	AccessToken(ctx context.Context, code string) (string, error)
	UserInfo(ctx context.Context, accessToken string) (kakao.UserInfo, error)
}

type TokenIssuer interface {
	Issue(c auth.Claims) (string, error)
}

type Service struct {
	Store  Store
	Tokens TokenIssuer
	Kakao  KakaoAuth
}

func (s *Service) Register(ctx context.Context, email, password, name string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return s.Store.Create(ctx, User{Email: &email, Name: name, PasswordHash: string(hash)})
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.Store.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.Tokens.Issue(auth.Claims{SubjectID: strconv.FormatInt(u.ID, 10), Provider: auth.ProviderLocal})
}

type KakaoLoginResult struct {
	User             User
	Token            string
	KakaoAccessToken string
}

// KakaoLogin exchanges an authorization code, creates the account on first login
// and issues a session token whose subject is the Kakao account id.
func (s *Service) KakaoLogin(ctx context.Context, code string) (KakaoLoginResult, error) {
	accessToken, err := s.Kakao.AccessToken(ctx, code)
	if err != nil {
		return KakaoLoginResult{}, err
	}
	info, err := s.Kakao.UserInfo(ctx, accessToken)
	if err != nil {
		return KakaoLoginResult{}, err
	}

	u, err := s.Store.FindByKakaoID(ctx, info.ID)
	if errors.Is(err, ErrNotFound) {
		kakaoID := info.ID
		u, err = s.Store.Create(ctx, User{Name: info.Properties.Nickname, KakaoID: &kakaoID})
		if errors.Is(err, ErrKakaoTaken) {
			// lost a race with a concurrent first login
			u, err = s.Store.FindByKakaoID(ctx, info.ID)
		}
	}
	if err != nil {
		return KakaoLoginResult{}, err
	}

	tok, err := s.Tokens.Issue(auth.Claims{SubjectID: strconv.FormatInt(info.ID, 10), Provider: auth.ProviderKakao})
	if err != nil {
		return KakaoLoginResult{}, err
	}
	return KakaoLoginResult{User: u, Token: tok, KakaoAccessToken: accessToken}, nil
}

// Resolve maps verified token claims to a user record.
func (s *Service) Resolve(ctx context.Context, c auth.Claims) (User, error) {
	id, err := strconv.ParseInt(c.SubjectID, 10, 64)
	if err != nil {
		return User{}, ErrNotFound
	}
	if c.Provider == auth.ProviderKakao {
		return s.Store.FindByKakaoID(ctx, id)
	}
	return s.Store.FindByID(ctx, id)
}
