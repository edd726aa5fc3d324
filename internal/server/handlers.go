// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/cache"
	"github.com/xkilldash9x/kepco-scraper/internal/config"
	"github.com/xkilldash9x/kepco-scraper/internal/portal"
	"github.com/xkilldash9x/kepco-scraper/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Runner runs one extraction. *portal.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, portal string, req schemas.FetchRequest, mode portal.Mode) ([]schemas.BillingRecord, error)
}

// ResultCache is the subset of *cache.Store the handlers use.
type ResultCache interface {
	Key(portal string, req schemas.FetchRequest, mode string) string
	Get(ctx context.Context, key string) ([]schemas.BillingRecord, error)
	Save(ctx context.Context, key string, records []schemas.BillingRecord) error
	Delete(ctx context.Context, key string) error
}

// SnapshotSaver is the subset of *store.Store the handlers use.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap store.Snapshot) (uuid.UUID, error)
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Runner    Runner
	Cache     ResultCache
	Snapshots SnapshotSaver
}

// Route binds a crawling endpoint to a portal flow.
type Route struct {
	Path   string
	Portal string
	Mode   portal.Mode
	// Paid projects records onto the reduced pp response shape.
	Paid bool
}

// Routes lists the crawling endpoints.
var Routes = []Route{
	{Path: "/crawling/legacy_kepco/3year", Portal: "kepco-on", Mode: portal.AllPeriods},
	{Path: "/crawling/pp/paid/all-periods", Portal: "pp", Mode: portal.AllPeriods, Paid: true},
	{Path: "/crawling/pp/paid/latest-3-data", Portal: "pp", Mode: portal.Latest(3), Paid: true},
}

// Handlers manages the HTTP request handling for the crawling API.
type Handlers struct {
	log       *zap.Logger
	cfg       config.ServerConfig
	runner    Runner
	cache     ResultCache
	snapshots SnapshotSaver
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		log:       logger.Named("handlers"),
		cfg:       cfg,
		runner:    deps.Runner,
		cache:     deps.Cache,
		snapshots: deps.Snapshots,
	}
}

// RegisterRoutes mounts the health check and every crawling route. Each
// crawling route gets its own limiter.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	for _, route := range Routes {
		r.With(h.rateLimit()).Post(route.Path, h.HandleCrawl(route))
	}
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// HandleCrawl decodes the credentials, runs the route's flow and writes the
// records in the route's shape.
func (h *Handlers) HandleCrawl(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req schemas.FetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.log.Debug("Rejected request body.", zap.String("path", route.Path), zap.Error(err))
			h.respondWithError(w, errBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			h.log.Debug("Rejected request.", zap.String("path", route.Path), zap.Error(err))
			h.respondWithError(w, errBadRequest)
			return
		}

		refresh := strings.Contains(r.Header.Get("Cache-Control"), "no-cache")
		records, err := h.fetch(r.Context(), route, req, refresh)
		if err != nil {
			resp := responseFor(r.Context(), err)
			h.log.Error("Crawl failed.",
				zap.String("path", route.Path),
				zap.Int("code", resp.Code),
				zap.Error(err),
			)
			h.respondWithError(w, resp)
			return
		}

		if route.Paid {
			paid := make([]schemas.PaidRecord, 0, len(records))
			for _, rec := range records {
				paid = append(paid, rec.ToPaid())
			}
			h.respondWithSuccess(w, schemas.DataResponse[schemas.PaidRecord]{Data: paid})
			return
		}
		if records == nil {
			records = []schemas.BillingRecord{}
		}
		h.respondWithSuccess(w, schemas.DataResponse[schemas.BillingRecord]{Data: records})
	}
}

// fetch serves from the cache when possible and otherwise runs the flow,
// then records the result. Test-mode requests bypass the cache. A refresh
// evicts the cached entry first so a failed run leaves nothing stale behind.
func (h *Handlers) fetch(ctx context.Context, route Route, req schemas.FetchRequest, refresh bool) ([]schemas.BillingRecord, error) {
	useCache := h.cache != nil && !req.TestMode
	var key string
	if useCache {
		key = h.cache.Key(route.Portal, req, route.Mode.String())
	}

	if useCache && refresh {
		if err := h.cache.Delete(ctx, key); err != nil {
			h.log.Warn("Cache eviction failed.", zap.Error(err))
		}
	} else if useCache {
		records, err := h.cache.Get(ctx, key)
		if err == nil {
			h.log.Debug("Cache hit.", zap.String("portal", route.Portal), zap.Stringer("mode", route.Mode))
			return records, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			h.log.Warn("Cache read failed.", zap.Error(err))
		}
	}

	records, err := h.runner.Run(ctx, route.Portal, req, route.Mode)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := h.cache.Save(ctx, key, records); err != nil {
			h.log.Warn("Cache write failed.", zap.Error(err))
		}
	}
	if h.snapshots != nil {
		id, err := h.snapshots.SaveSnapshot(ctx, store.Snapshot{
			Portal:  route.Portal,
			Account: req.UserNum,
			Mode:    route.Mode.String(),
			Records: records,
		})
		if err != nil {
			h.log.Warn("Snapshot write failed.", zap.Error(err))
		} else {
			h.log.Debug("Snapshot saved.", zap.Stringer("snapshot_id", id))
		}
	}
	return records, nil
}

// rateLimit rejects requests beyond the configured rate. A zero rate disables
// it.
func (h *Handlers) rateLimit() func(http.Handler) http.Handler {
	if h.cfg.RateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := h.cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(h.cfg.RateLimit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				h.respondWithError(w, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, payload any) {
	h.respondJSON(w, http.StatusOK, payload)
}

func (h *Handlers) respondWithError(w http.ResponseWriter, resp schemas.ErrorResponse) {
	h.respondJSON(w, resp.Status, resp)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
