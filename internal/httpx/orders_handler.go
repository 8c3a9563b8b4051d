package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ariefcatur/gift-orders/internal/auth"
	"github.com/ariefcatur/gift-orders/internal/logging"
	"github.com/ariefcatur/gift-orders/internal/orders"
	"github.com/ariefcatur/gift-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	headerNotificationToken = "X-Kakao-Access-Token"
	headerIdempotencyKey    = "Idempotency-Key"
	idemPending             = "pending"
	idemClaimTries          = 3
)

type OrderService interface {
	CreateOrder(ctx context.Context, sessionToken, notificationToken string, req orders.CreateOrderRequest) (*orders.Confirmation, error)
	GetOrder(ctx context.Context, sessionToken string, id int64) (orders.Order, error)
	AddWish(ctx context.Context, sessionToken string, productID int64) (orders.WishlistEntry, error)
	ListWishes(ctx context.Context, sessionToken string) ([]orders.WishlistEntry, error)
}

type OrdersHandler struct {
	Orders OrderService
	// Tokens scopes idempotency keys to the caller. Redis or Tokens nil disables replay.
	Tokens orders.TokenVerifier
	Redis  redis.Cmdable
}

type createOrderReq struct {
	ProductOptionID int64  `json:"productOptionId" validate:"required,gt=0"`
	Quantity        int    `json:"quantity" validate:"required,gt=0"`
	Message         string `json:"message" validate:"max=255"`
}

type createOrderResp struct {
	*orders.Confirmation
	Idempotent bool `json:"idempotent"`
}

type addWishReq struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/api/orders", h.createOrder)
	r.Get("/api/orders/{id}", h.getOrder)
	r.Post("/api/wishes", h.addWish)
	r.Get("/api/wishes", h.listWishes)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	session := r.Header.Get("Authorization")

	idemKey := h.idempotencyKey(session, r.Header.Get(headerIdempotencyKey))
	if idemKey != "" {
		replayed, claimed := h.claim(ctx, w, idemKey)
		if replayed {
			return
		}
		if !claimed {
			idemKey = ""
		}
	}

	conf, err := h.Orders.CreateOrder(ctx, session, r.Header.Get(headerNotificationToken), orders.CreateOrderRequest{
		ProductOptionID: req.ProductOptionID,
		Quantity:        req.Quantity,
		Message:         req.Message,
	})
	if idemKey != "" {
		h.settle(ctx, idemKey, conf)
	}
	if err != nil {
		writeErrorWithOrder(w, r, err, conf)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{Confirmation: conf})
}

func (h *OrdersHandler) idempotencyKey(session, key string) string {
	if key == "" || h.Redis == nil || h.Tokens == nil {
		return ""
	}
	c, err := h.Tokens.Verify(session)
	if err != nil {
		return ""
	}
	return idemKeyFor(c, key)
}

func idemKeyFor(c auth.Claims, key string) string {
	return fmt.Sprintf(redisx.KeyIdemOrderCreate, c.Provider, c.SubjectID, key)
}

// claim reserves key for this request. When the key already holds a stored
// confirmation it is replayed and replayed is true. A request still in flight
// under the same key gets 409. A key that expired between SETNX and GET is
// claimed again. Redis failures disable replay for this request.
func (h *OrdersHandler) claim(ctx context.Context, w http.ResponseWriter, key string) (replayed, claimed bool) {
	log := logging.FromContext(ctx)
	for try := 0; try < idemClaimTries; try++ {
		ok, err := h.Redis.SetNX(ctx, key, idemPending, redisx.TTLIdempotency).Result()
		if err != nil {
			log.Warn("idempotency_unavailable", zap.Error(err))
			return false, false
		}
		if ok {
			return false, true
		}

		stored, err := h.Redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Warn("idempotency_unavailable", zap.Error(err))
			return false, false
		}
		if stored == idemPending {
			writeJSON(w, http.StatusConflict, errorBody{Code: "IDEMPOTENCY_IN_PROGRESS", Message: "a request with this Idempotency-Key is in progress"})
			return true, false
		}
		var conf orders.Confirmation
		if err := json.Unmarshal([]byte(stored), &conf); err != nil {
			log.Warn("idempotency_corrupt", zap.String("key", key), zap.Error(err))
			return false, false
		}
		writeJSON(w, http.StatusOK, createOrderResp{Confirmation: &conf, Idempotent: true})
		return true, false
	}
	log.Warn("idempotency_unavailable", zap.String("key", key), zap.String("reason", "key churn"))
	return false, false
}

// settle stores the committed confirmation, or frees the key when nothing was committed.
func (h *OrdersHandler) settle(ctx context.Context, key string, conf *orders.Confirmation) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if conf == nil {
		err = h.Redis.Del(ctx, key).Err()
	} else {
		b, _ := json.Marshal(conf)
		err = h.Redis.Set(ctx, key, string(b), redisx.TTLIdempotency).Err()
	}
	if err != nil {
		logging.FromContext(ctx).Warn("idempotency_store_failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: "invalid order id"})
		return
	}
	o, err := h.Orders.GetOrder(r.Context(), r.Header.Get("Authorization"), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addWish(w http.ResponseWriter, r *http.Request) {
	var req addWishReq
	if !decode(w, r, &req) {
		return
	}
	wish, err := h.Orders.AddWish(r.Context(), r.Header.Get("Authorization"), req.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wish)
}

func (h *OrdersHandler) listWishes(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Orders.ListWishes(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}
