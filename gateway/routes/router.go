package routes

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"lendcore/gateway/middleware"
	"lendcore/sdk/lending"
)

// RateLimitKey names the limiter bucket applied to the lending routes.
const RateLimitKey = "lending"

type Config struct {
	Lending       *lending.Client
	EventsTarget  *url.URL
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New assembles the gateway handler: health and metrics at the root, the
// lending REST bridge under /v1/lending with read and write scopes, and a
// websocket passthrough for the node's event stream.
func New(cfg Config) (http.Handler, error) {
	if cfg.Lending == nil {
		return nil, fmt.Errorf("routes: lending client required")
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	bridge := newLendingRoutes(cfg.Lending)
	r.Route("/v1/lending", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitKey))
		}
		if obs != nil {
			sr.Use(obs.Middleware("lending"))
		}
		sr.Group(func(read chi.Router) {
			if cfg.Authenticator != nil {
				read.Use(cfg.Authenticator.Middleware(middleware.ScopeLendingRead))
			}
			bridge.mountReads(read)
			if cfg.EventsTarget != nil {
				read.Handle("/events", NewEventsProxy(cfg.EventsTarget))
			}
		})
		sr.Group(func(write chi.Router) {
			if cfg.Authenticator != nil {
				write.Use(cfg.Authenticator.Middleware(middleware.ScopeLendingWrite))
			}
			bridge.mountWrites(write)
		})
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
