package orders

import (
	"time"
	"unicode/utf8"
)

const maxMessageLength = 255

// ProductOption is a purchasable variant of a product with its own stock.
// Version is bumped on every write and compared on update.
type ProductOption struct {
	ID        int64
	ProductID int64
	Name      string
	Quantity  int
	Version   int64
}

func (o ProductOption) CanFulfil(qty int) bool {
	return qty > 0 && qty <= o.Quantity
}

// Order is an immutable purchase receipt. ProductID is the product of the
// purchased option and is not stored on the order row itself.
type Order struct {
	ID        int64     `json:"id"`
	OptionID  int64     `json:"optionId"`
	ProductID int64     `json:"productId"`
	UserID    int64     `json:"userId"`
	Quantity  int       `json:"quantity"`
	OrderedAt time.Time `json:"orderDateTime"`
	Message   string    `json:"message,omitempty"`
}

type WishlistEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	ProductID int64     `json:"productId"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateOrderRequest struct {
	ProductOptionID int64
	Quantity        int
	Message         string
}

func (r CreateOrderRequest) validate(notificationToken string) error {
	switch {
	case r.ProductOptionID <= 0:
		return invalid("productOptionId must be positive")
	case r.Quantity <= 0:
		return invalid("quantity must be positive")
	case utf8.RuneCountInString(r.Message) > maxMessageLength:
		return invalid("message is too long")
	case notificationToken == "":
		return invalid("notification token is required")
	}
	return nil
}

// Confirmation is returned to the buyer once the order is committed.
type Confirmation struct {
	OrderID   int64     `json:"orderId"`
	OptionID  int64     `json:"optionId"`
	Quantity  int       `json:"quantity"`
	OrderedAt time.Time `json:"orderDateTime"`
	Message   string    `json:"message,omitempty"`
}

func confirmationOf(o Order) *Confirmation {
	return &Confirmation{
		OrderID:   o.ID,
		OptionID:  o.OptionID,
		Quantity:  o.Quantity,
		OrderedAt: o.OrderedAt,
		Message:   o.Message,
	}
}
