package users

import (
	"context"
	"errors"

	"github.com/ariefcatur/gift-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation   = "23505"
	kakaoIDConstraint = "users_kakao_id_key"
)

const userColumns = `id, email, name, password_hash, kakao_id, created_at`

type Repo struct{ DB postgres.DB }

func (r *Repo) FindByID(ctx context.Context, id int64) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (r *Repo) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

func (r *Repo) FindByKakaoID(ctx context.Context, kakaoID int64) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE kakao_id=$1`, kakaoID)
}

func (r *Repo) Create(ctx context.Context, u User) (User, error) {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO users(email, name, password_hash, kakao_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		u.Email, u.Name, u.PasswordHash, u.KakaoID,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == kakaoIDConstraint {
				return User{}, ErrKakaoTaken
			}
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

func (r *Repo) findOne(ctx context.Context, sql string, arg any) (User, error) {
	var u User
	err := r.DB.QueryRow(ctx, sql, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.KakaoID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}
