package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/gift-orders/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	foreignKeyViolation  = "23503"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// querier is what both the pool and a pgx.Tx offer.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the Postgres UnitOfWork.
type Repo struct{ DB postgres.DB }

func (r *Repo) Stores() Stores { return storesOn(r.DB) }

func (r *Repo) Within(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, storesOn(tx)); err != nil {
		return conflictOr(err)
	}
	return conflictOr(tx.Commit(ctx))
}

func storesOn(q querier) Stores {
	return Stores{
		Inventory: &inventoryRepo{q: q},
		Orders:    &orderRepo{q: q},
		Wishlist:  &wishlistRepo{q: q},
	}
}

// conflictOr turns Postgres serialization failures into ErrConcurrentModification.
func conflictOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected) {
		return fmt.Errorf("%w: %w", ErrConcurrentModification, err)
	}
	return err
}

type inventoryRepo struct{ q querier }

func (r *inventoryRepo) Option(ctx context.Context, id int64) (ProductOption, error) {
	var o ProductOption
	err := r.q.QueryRow(ctx, `
		SELECT id, product_id, name, quantity, version
		FROM product_options WHERE id=$1`, id,
	).Scan(&o.ID, &o.ProductID, &o.Name, &o.Quantity, &o.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductOption{}, ErrProductOptionNotFound
	}
	return o, err
}

func (r *inventoryRepo) Decrement(ctx context.Context, opt ProductOption, amount int) (ProductOption, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE product_options SET quantity=quantity-$3, version=version+1
		WHERE id=$1 AND version=$2 AND quantity >= $3`,
		opt.ID, opt.Version, amount,
	)
	if err != nil {
		return ProductOption{}, err
	}
	if tag.RowsAffected() == 0 {
		return ProductOption{}, ErrConcurrentModification
	}
	opt.Quantity -= amount
	opt.Version++
	return opt, nil
}

type orderRepo struct{ q querier }

func (r *orderRepo) Insert(ctx context.Context, o Order) (Order, error) {
	err := r.q.QueryRow(ctx, `
		INSERT INTO orders(product_option_id, user_id, quantity, ordered_at, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		o.OptionID, o.UserID, o.Quantity, o.OrderedAt, o.Message,
	).Scan(&o.ID)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *orderRepo) Get(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := r.q.QueryRow(ctx, `
		SELECT o.id, o.product_option_id, po.product_id, o.user_id, o.quantity, o.ordered_at, o.message
		FROM orders o JOIN product_options po ON po.id = o.product_option_id
		WHERE o.id=$1`, id,
	).Scan(&o.ID, &o.OptionID, &o.ProductID, &o.UserID, &o.Quantity, &o.OrderedAt, &o.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

type wishlistRepo struct{ q querier }

func (r *wishlistRepo) Add(ctx context.Context, userID, productID int64) (WishlistEntry, error) {
	w := WishlistEntry{UserID: userID, ProductID: productID}
	// the no-op update makes RETURNING yield the existing row on conflict
	err := r.q.QueryRow(ctx, `
		INSERT INTO wishes(user_id, product_id) VALUES ($1, $2)
		ON CONFLICT (user_id, product_id) DO UPDATE SET user_id=EXCLUDED.user_id
		RETURNING id, created_at`,
		userID, productID,
	).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return WishlistEntry{}, ErrProductNotFound
		}
		return WishlistEntry{}, err
	}
	return w, nil
}

func (r *wishlistRepo) List(ctx context.Context, userID int64) ([]WishlistEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, product_id, created_at
		FROM wishes WHERE user_id=$1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []WishlistEntry{}
	for rows.Next() {
		var w WishlistEntry
		if err := rows.Scan(&w.ID, &w.UserID, &w.ProductID, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *wishlistRepo) Delete(ctx context.Context, userID, productID int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM wishes WHERE user_id=$1 AND product_id=$2`, userID, productID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
