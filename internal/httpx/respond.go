package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/ariefcatur/gift-orders/internal/kakao"
	"github.com/ariefcatur/gift-orders/internal/logging"
	"github.com/ariefcatur/gift-orders/internal/orders"
	"github.com/ariefcatur/gift-orders/internal/users"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type errorBody struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Fields  map[string]string    `json:"fields,omitempty"`
	Order   *orders.Confirmation `json:"order,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

var statusTable = []struct {
	err    error
	status int
	code   string
}{
	{orders.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{orders.ErrAuthentication, http.StatusUnauthorized, "UNAUTHENTICATED"},
	{users.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{orders.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{orders.ErrProductOptionNotFound, http.StatusNotFound, "PRODUCT_OPTION_NOT_FOUND"},
	{orders.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
	{orders.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
	{orders.ErrInsufficientQuantity, http.StatusConflict, "INSUFFICIENT_QUANTITY"},
	{orders.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
	{users.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN"},
	{users.ErrKakaoTaken, http.StatusConflict, "KAKAO_ACCOUNT_TAKEN"},
	{orders.ErrNotificationFailed, http.StatusBadGateway, "NOTIFICATION_FAILED"},
}

// statusOf maps a service error to its HTTP status and stable error code.
func statusOf(err error) (int, string) {
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			return row.status, row.code
		}
	}
	var ke *kakao.Error
	if errors.As(err, &ke) {
		return http.StatusBadGateway, "KAKAO_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWithOrder(w, r, err, nil)
}

func writeErrorWithOrder(w http.ResponseWriter, r *http.Request, err error, conf *orders.Confirmation) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request_failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Code: code, Message: msg, Order: conf})
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: "invalid json"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		body := errorBody{Code: "INVALID_REQUEST", Message: "validation failed", Fields: map[string]string{}}
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			for _, fe := range ves {
				body.Fields[fe.Field()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, body)
		return false
	}
	return true
}
