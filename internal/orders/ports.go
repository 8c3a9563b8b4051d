package orders

import (
	"context"

	"github.com/ariefcatur/gift-orders/internal/auth"
	"github.com/ariefcatur/gift-orders/internal/kakao"
	"github.com/ariefcatur/gift-orders/internal/users"
	kafkago "github.com/segmentio/kafka-go"
)

type InventoryStore interface {
	// Option returns ErrProductOptionNotFound when id does not exist.
	Option(ctx context.Context, id int64) (ProductOption, error)
	// Decrement subtracts amount from the snapshot opt if its version is still current
	// and the result stays non-negative. Otherwise it returns ErrConcurrentModification.
	Decrement(ctx context.Context, opt ProductOption, amount int) (ProductOption, error)
}

type OrderStore interface {
	Insert(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
}

type WishlistStore interface {
	// Add is idempotent per (user, product).
	Add(ctx context.Context, userID, productID int64) (WishlistEntry, error)
	List(ctx context.Context, userID int64) ([]WishlistEntry, error)
	// Delete reports whether an entry existed.
	Delete(ctx context.Context, userID, productID int64) (bool, error)
}

type Stores struct {
	Inventory InventoryStore
	Orders    OrderStore
	Wishlist  WishlistStore
}

// UnitOfWork runs fn inside one transaction: everything fn writes through the
// given Stores is committed together when fn returns nil and rolled back otherwise.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
	// Stores returns non-transactional stores for single-statement reads and writes.
	Stores() Stores
}

type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

type UserResolver interface {
	Resolve(ctx context.Context, c auth.Claims) (users.User, error)
}

type Notifier interface {
	SendOrderMessage(ctx context.Context, accessToken string, m kakao.OrderMessage) error
}

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}
