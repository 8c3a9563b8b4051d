package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ariefcatur/gift-orders/internal/ranking"
	"github.com/go-chi/chi/v5"
)

const (
	defaultRankingLimit = 10
	maxRankingLimit     = 100
)

type Rankings interface {
	Top(ctx context.Context, n int) ([]ranking.Entry, error)
}

type RankingsHandler struct {
	Rankings Rankings
}

func (h *RankingsHandler) Register(r chi.Router) {
	r.Get("/api/rankings/products", h.topProducts)
}

func (h *RankingsHandler) topProducts(w http.ResponseWriter, r *http.Request) {
	limit := defaultRankingLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxRankingLimit {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	top, err := h.Rankings.Top(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}
