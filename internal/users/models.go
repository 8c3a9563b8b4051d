package users

import (
	"context"
	"errors"
	"time"
)

type User struct {
	ID           int64
	Email        *string // nil for Kakao-only accounts
	Name         string
	PasswordHash string
	KakaoID      *int64
	CreatedAt    time.Time
}

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrKakaoTaken         = errors.New("kakao account already linked")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type Store interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByKakaoID(ctx context.Context, kakaoID int64) (User, error)
	// Create inserts u and returns it with ID and CreatedAt set.
	// A duplicate email yields ErrEmailTaken, a duplicate Kakao id ErrKakaoTaken.
	Create(ctx context.Context, u User) (User, error)
}
