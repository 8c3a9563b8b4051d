package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/gift-orders/internal/kafka"
	"github.com/ariefcatur/gift-orders/internal/kakao"
	"github.com/ariefcatur/gift-orders/internal/logging"
	"github.com/ariefcatur/gift-orders/internal/metrics"
	"github.com/ariefcatur/gift-orders/internal/users"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultMaxAttempts = 3

var tracer = otel.Tracer("github.com/ariefcatur/gift-orders/internal/orders")

type Service struct {
	Tokens   TokenVerifier
	Users    UserResolver
	Store    UnitOfWork
	Notifier Notifier

	// Optional event sinks; nil disables publishing.
	PlacedEvents       EventPublisher
	NotifyFailedEvents EventPublisher

	Metrics     *metrics.Orders
	Log         *zap.Logger
	ServiceName string
	// MaxAttempts bounds transactional attempts lost to concurrent modification.
	MaxAttempts int
	// RetryBackOff returns the wait policy between attempts. Defaults to a short exponential backoff.
	RetryBackOff func() backoff.BackOff
	Now          func() time.Time
}

// CreateOrder places an order for the caller identified by sessionToken and
// messages the buyer using notificationToken.
//
// Stock decrement, order insert and wishlist cleanup commit together or not at all.
// When the confirmation message cannot be sent the order stays committed: the
// returned Confirmation is non-nil and err matches ErrNotificationFailed.
func (s *Service) CreateOrder(ctx context.Context, sessionToken, notificationToken string, req CreateOrderRequest) (conf *Confirmation, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.Int64("order.option_id", req.ProductOptionID),
		attribute.Int("order.quantity", req.Quantity),
	))
	attempts := 0
	log := logging.FromContextOr(ctx, s.Log)
	defer func() {
		outcome := Outcome(err)
		s.Metrics.Outcome(outcome)
		span.SetAttributes(attribute.String("order.outcome", outcome), attribute.Int("order.attempts", attempts))
		fields := []zap.Field{
			zap.Int64("option_id", req.ProductOptionID),
			zap.Int("quantity", req.Quantity),
			zap.Int("attempts", attempts),
			zap.String("outcome", outcome),
			zap.Duration("took", time.Since(start)),
		}
		if conf != nil {
			fields = append(fields, zap.Int64("order_id", conf.OrderID))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			log.Warn("order_create_done", append(fields, zap.Error(err))...)
		} else {
			log.Info("order_create_done", fields...)
		}
		span.End()
	}()

	if err := req.validate(notificationToken); err != nil {
		return nil, err
	}
	user, err := s.authenticate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	span.AddEvent("authenticated", trace.WithAttributes(attribute.Int64("user.id", user.ID)))

	placed, err := s.place(ctx, user.ID, req, &attempts)
	if err != nil {
		return nil, err
	}
	conf = confirmationOf(placed)
	span.AddEvent("committed", trace.WithAttributes(attribute.Int64("order.id", placed.ID)))
	s.publishPlaced(ctx, placed)

	if nerr := s.notify(ctx, notificationToken, placed); nerr != nil {
		s.publishNotifyFailed(ctx, placed, nerr)
		return conf, nerr
	}
	return conf, nil
}

func (s *Service) authenticate(ctx context.Context, token string) (users.User, error) {
	claims, err := s.Tokens.Verify(token)
	if err != nil {
		return users.User{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	u, err := s.Users.Resolve(ctx, claims)
	if errors.Is(err, users.ErrNotFound) {
		return users.User{}, ErrUserNotFound
	}
	if err != nil {
		return users.User{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return u, nil
}

// place runs the transactional part, retrying the whole attempt on concurrent modification.
func (s *Service) place(ctx context.Context, userID int64, req CreateOrderRequest, attempts *int) (Order, error) {
	maxTries := s.MaxAttempts
	if maxTries <= 0 {
		maxTries = DefaultMaxAttempts
	}
	op := func() (Order, error) {
		*attempts++
		o, err := s.attempt(ctx, userID, req)
		switch {
		case err == nil:
			s.Metrics.Attempt("committed")
			return o, nil
		case errors.Is(err, ErrConcurrentModification):
			s.Metrics.Attempt("conflict")
			return Order{}, err
		default:
			s.Metrics.Attempt("aborted")
			return Order{}, backoff.Permanent(err)
		}
	}
	o, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.retryBackOff()),
		backoff.WithMaxTries(uint(maxTries)),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return o, err
}

func (s *Service) retryBackOff() backoff.BackOff {
	if s.RetryBackOff != nil {
		return s.RetryBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}

func (s *Service) attempt(ctx context.Context, userID int64, req CreateOrderRequest) (Order, error) {
	var placed Order
	err := s.Store.Within(ctx, func(ctx context.Context, st Stores) error {
		opt, err := st.Inventory.Option(ctx, req.ProductOptionID)
		if err != nil {
			return err
		}
		if !opt.CanFulfil(req.Quantity) {
			return ErrInsufficientQuantity
		}
		if _, err := st.Inventory.Decrement(ctx, opt, req.Quantity); err != nil {
			return err
		}
		o, err := st.Orders.Insert(ctx, Order{
			OptionID:  opt.ID,
			ProductID: opt.ProductID,
			UserID:    userID,
			Quantity:  req.Quantity,
			OrderedAt: s.now(),
			Message:   req.Message,
		})
		if err != nil {
			return err
		}
		// the product may never have been wished for
		if _, err := st.Wishlist.Delete(ctx, userID, opt.ProductID); err != nil {
			return err
		}
		placed = o
		return nil
	})
	return placed, classify(err)
}

func (s *Service) notify(ctx context.Context, token string, o Order) error {
	if s.Notifier == nil {
		return nil
	}
	// the order is committed; a caller that went away must not cancel its confirmation
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "orders.notify")
	defer span.End()

	start := time.Now()
	err := s.Notifier.SendOrderMessage(ctx, token, kakao.OrderMessage{
		OrderID:   o.ID,
		OptionID:  o.OptionID,
		Quantity:  o.Quantity,
		Message:   o.Message,
		OrderedAt: o.OrderedAt,
	})
	outcome := "success"
	if err != nil {
		outcome = causeLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.Metrics.Notification(outcome, time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return nil
}

func causeLabel(err error) string {
	if c := kakao.CauseOf(err); c != "" {
		return string(c)
	}
	return "error"
}

func (s *Service) publishPlaced(ctx context.Context, o Order) {
	if s.PlacedEvents == nil {
		return
	}
	s.publish(ctx, s.PlacedEvents, EventOrderPlaced, o.ID, OrderPlacedPayload{
		OrderID:   o.ID,
		UserID:    o.UserID,
		ProductID: o.ProductID,
		OptionID:  o.OptionID,
		Quantity:  o.Quantity,
		OrderedAt: o.OrderedAt,
	})
}

func (s *Service) publishNotifyFailed(ctx context.Context, o Order, err error) {
	if s.NotifyFailedEvents == nil {
		return
	}
	s.publish(ctx, s.NotifyFailedEvents, EventOrderNotificationFailed, o.ID, NotificationFailedPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		Cause:   causeLabel(err),
		Reason:  err.Error(),
	})
}

func (s *Service) publish(ctx context.Context, p EventPublisher, eventType string, orderID int64, payload any) {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    s.now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       kafkax.MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	p.Publish(PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}

// GetOrder returns one of the caller's own orders. Orders of other users are reported as not found.
func (s *Service) GetOrder(ctx context.Context, sessionToken string, id int64) (Order, error) {
	u, err := s.authenticate(ctx, sessionToken)
	if err != nil {
		return Order{}, err
	}
	o, err := s.Store.Stores().Orders.Get(ctx, id)
	if err != nil {
		return Order{}, classify(err)
	}
	if o.UserID != u.ID {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) AddWish(ctx context.Context, sessionToken string, productID int64) (WishlistEntry, error) {
	if productID <= 0 {
		return WishlistEntry{}, invalid("productId must be positive")
	}
	u, err := s.authenticate(ctx, sessionToken)
	if err != nil {
		return WishlistEntry{}, err
	}
	w, err := s.Store.Stores().Wishlist.Add(ctx, u.ID, productID)
	return w, classify(err)
}

func (s *Service) ListWishes(ctx context.Context, sessionToken string) ([]WishlistEntry, error) {
	u, err := s.authenticate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	ws, err := s.Store.Stores().Wishlist.List(ctx, u.ID)
	return ws, classify(err)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
