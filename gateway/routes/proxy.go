package routes

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewEventsProxy forwards event stream subscriptions, websocket upgrade
// included, to the node's /ws/events endpoint. The cursor query string
// passes through untouched.
func NewEventsProxy(target *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Director = func(req *http.Request) {
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.Host = target.Host
		req.URL.Path = "/ws/events"
		req.URL.RawPath = ""
		otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Default().Error("event stream proxy failed", "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)
	}
	return proxy
}
