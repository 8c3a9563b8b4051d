package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/gift-orders/internal/users"
)

// Users implements users.Store. Email and Kakao id are unique like in Postgres.
type Users struct {
	mu     sync.Mutex
	byID   map[int64]users.User
	lastID int64
}

func NewUsers() *Users {
	return &Users{byID: map[int64]users.User{}}
}

func (s *Users) FindByID(_ context.Context, id int64) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (s *Users) FindByEmail(_ context.Context, email string) (users.User, error) {
	return s.find(func(u users.User) bool { return u.Email != nil && *u.Email == email })
}

func (s *Users) FindByKakaoID(_ context.Context, kakaoID int64) (users.User, error) {
	return s.find(func(u users.User) bool { return u.KakaoID != nil && *u.KakaoID == kakaoID })
}

func (s *Users) Create(_ context.Context, u users.User) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.byID {
		if u.Email != nil && other.Email != nil && *u.Email == *other.Email {
			return users.User{}, users.ErrEmailTaken
		}
		if u.KakaoID != nil && other.KakaoID != nil && *u.KakaoID == *other.KakaoID {
			return users.User{}, users.ErrKakaoTaken
		}
	}
	s.lastID++
	u.ID = s.lastID
	u.CreatedAt = time.Now()
	s.byID[u.ID] = u
	return u, nil
}

func (s *Users) find(match func(users.User) bool) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if match(u) {
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}
