package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest         = errors.New("invalid order request")
	ErrAuthentication         = errors.New("authentication failed")
	ErrUserNotFound           = errors.New("user not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrProductOptionNotFound  = errors.New("product option not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientQuantity   = errors.New("insufficient quantity")
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNotificationFailed means the order is committed but the confirmation message was not sent.
	ErrNotificationFailed = errors.New("order notification failed")
	ErrPersistence        = errors.New("persistence failure")
)

var businessErrors = []error{
	ErrInvalidRequest,
	ErrAuthentication,
	ErrUserNotFound,
	ErrProductNotFound,
	ErrProductOptionNotFound,
	ErrOrderNotFound,
	ErrInsufficientQuantity,
	ErrConcurrentModification,
	ErrNotificationFailed,
	ErrPersistence,
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

// classify leaves taxonomy errors untouched and wraps anything else as ErrPersistence.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range businessErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// Outcome is a short low-cardinality label for err, used in logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrAuthentication):
		return "unauthenticated"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrProductOptionNotFound):
		return "option_not_found"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrInsufficientQuantity):
		return "insufficient_quantity"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrNotificationFailed):
		return "notification_failed"
	default:
		return "error"
	}
}
