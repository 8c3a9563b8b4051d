package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/gift-orders/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Log      *zap.Logger
	Metrics  *metrics.HTTP
	Gatherer prometheus.Gatherer // nil disables /metrics
	Timeout  time.Duration
}

type Registrar interface {
	Register(r chi.Router)
}

func NewRouter(cfg RouterConfig, handlers ...Registrar) *chi.Mux {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(traceRequests, logRequests(cfg.Log, cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	for _, h := range handlers {
		h.Register(r)
	}
	return r
}
