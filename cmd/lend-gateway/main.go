package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendcore/gateway/config"
	"lendcore/gateway/middleware"
	"lendcore/gateway/routes"
	"lendcore/observability/logging"
	telemetry "lendcore/observability/otel"
	"lendcore/sdk/lending"
)

func main() {
	var cfgPath string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEND_ENV"))
	log := logging.Setup("lend-gateway", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecureExport := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecureExport = parsed
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecureExport,
		Headers:     otlpHeaders,
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Tracing,
	})
	if err != nil {
		log.Error("initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	nodeToken := cfg.Node.AuthToken
	if envToken := strings.TrimSpace(os.Getenv("LEND_NODE_TOKEN")); envToken != "" {
		nodeToken = envToken
	}
	clientOpts := []lending.Option{lending.WithAuthToken(nodeToken)}
	if cfg.Node.Timeout > 0 {
		clientOpts = append(clientOpts, lending.WithHTTPClient(&http.Client{
			Timeout:   cfg.Node.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}))
	}
	client, err := lending.New(cfg.Node.Endpoint, clientOpts...)
	if err != nil {
		log.Error("configure node client", "error", err)
		os.Exit(1)
	}
	eventsTarget, err := url.Parse(cfg.Node.Endpoint)
	if err != nil {
		log.Error("parse node endpoint", "error", err)
		os.Exit(1)
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.Enabled,
		HMACSecret:     cfg.Auth.HMACSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		ScopeClaim:     cfg.Auth.ScopeClaim,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		ClockSkew:      cfg.Auth.ClockSkew,
	}, log)

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		limits[entry.ID] = middleware.RateLimit{RatePerSecond: entry.EffectiveRate(), Burst: entry.Burst}
	}
	if _, ok := limits[routes.RateLimitKey]; !ok {
		limits[routes.RateLimitKey] = middleware.RateLimit{RatePerSecond: 5, Burst: 20}
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, log)

	router, err := routes.New(routes.Config{
		Lending:       client,
		EventsTarget:  eventsTarget,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(limits, log),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
	})
	if err != nil {
		log.Error("configure routes", "error", err)
		os.Exit(1)
	}

	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "lend-gateway")
	}

	cert := strings.TrimSpace(cfg.Security.TLSCertFile)
	key := strings.TrimSpace(cfg.Security.TLSKeyFile)
	useTLS := cert != "" && key != ""
	allowInsecure := cfg.Security.AllowInsecure || allowInsecureFlag
	if !useTLS {
		if !allowInsecure {
			log.Error("TLS certificate and key are required; set security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
			os.Exit(1)
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			log.Error("plaintext gateway mode is restricted to loopback listeners or the dev environment")
			os.Exit(1)
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error("listen", "address", cfg.ListenAddress, "error", err)
		os.Exit(1)
	}
	go func() {
		scheme := "http"
		if useTLS {
			scheme = "https"
		}
		log.Info("gateway listening", "url", scheme+"://"+listener.Addr().String())
		var serveErr error
		if useTLS {
			serveErr = server.ServeTLS(listener, cert, key)
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Error("serve", "error", serveErr)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
}

func isLoopbackAddress(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		host = listen
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
