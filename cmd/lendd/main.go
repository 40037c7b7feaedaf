package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendcore/config"
	"lendcore/core"
	"lendcore/core/genesis"
	"lendcore/crypto"
	"lendcore/integrations/webhooks"
	"lendcore/observability/logging"
	telemetry "lendcore/observability/otel"
	"lendcore/rpc"
	"lendcore/storage"
)

const (
	nodePassEnv      = "LEND_NODE_PASS"
	genesisPathEnv   = "LEND_GENESIS"
	webhookURLEnv    = "LEND_WEBHOOK_URL"
	webhookSecretEnv = "LEND_WEBHOOK_SECRET"
)

func main() {
	configFile := flag.String("config", "./lendd.toml", "path to the node configuration file")
	genesisFlag := flag.String("genesis", "", "path to a genesis spec JSON file (overrides LEND_GENESIS and config GenesisFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEND_ENV"))
	logger := logging.Setup("lendd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecureExport := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecureExport = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecureExport,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		logger.Error("initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "error", err, "data_dir", cfg.DataDir)
		os.Exit(1)
	}
	defer db.Close()

	nodeKey, err := loadNodeKey(cfg)
	if err != nil {
		logger.Error("load node key", "error", err)
		os.Exit(1)
	}
	logger.Info("node identity loaded", "address", nodeKey.PubKey().Address().String())

	module := core.ModuleTreasury()
	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile)
	if genesisPath != "" {
		spec, err := genesis.LoadFile(genesisPath)
		if err != nil {
			logger.Error("load genesis spec", "error", err)
			os.Exit(1)
		}
		if err := genesis.Apply(db, spec, module); err != nil {
			if errors.Is(err, genesis.ErrMismatch) {
				logger.Error("genesis spec differs from the initialised state", "path", genesisPath)
			} else {
				logger.Error("apply genesis", "error", err)
			}
			os.Exit(1)
		}
		logger.Info("genesis applied", "path", genesisPath)
	} else {
		logger.Warn("starting without a genesis spec; state must already be initialised")
	}

	ledger, err := core.NewLedger(db, module)
	if err != nil {
		logger.Error("create ledger", "error", err)
		os.Exit(1)
	}
	ledger.SetLogger(logger)
	stream := core.NewEventStream()
	ledger.SetEmitter(stream)

	var alertDispatcher *webhooks.Dispatcher
	if endpoint := strings.TrimSpace(os.Getenv(webhookURLEnv)); endpoint != "" {
		secret := strings.TrimSpace(os.Getenv(webhookSecretEnv))
		if secret == "" {
			logger.Error("webhook endpoint configured without a secret", "env", webhookSecretEnv)
			os.Exit(1)
		}
		alertDispatcher, err = webhooks.NewDispatcher(endpoint, []byte(secret))
		if err != nil {
			logger.Error("create webhook dispatcher", "error", err)
			os.Exit(1)
		}
		alerts, cancelAlerts, _, err := stream.Subscribe(context.Background(), "")
		if err != nil {
			logger.Error("subscribe webhook stream", "error", err)
			os.Exit(1)
		}
		defer cancelAlerts()
		go alertDispatcher.Forward(alerts)
		logger.Info("webhook alerts enabled", "endpoint", endpoint)
	}

	server := rpc.NewServer(ledger, stream, rpc.ServerConfig{
		AuthToken:          cfg.RPCAuthToken,
		TrustedProxies:     append([]string{}, cfg.RPCTrustedProxies...),
		AllowInsecure:      cfg.RPCAllowInsecure,
		TLSCertFile:        cfg.RPCTLSCertFile,
		TLSKeyFile:         cfg.RPCTLSKeyFile,
		MutationsPerMinute: cfg.RPCMutationsPerMinute,
	})
	server.SetLogger(logger)

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		logger.Error("bind rpc listener", "error", err, "addr", cfg.RPCAddress)
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- server.Serve(listener) }()

	var telemetrySrv *http.Server
	if addr := strings.TrimSpace(cfg.TelemetryAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		telemetrySrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() { errCh <- telemetrySrv.ListenAndServe() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("lendd started",
		"network", cfg.NetworkName,
		"rpc", cfg.RPCAddress,
		"telemetry", cfg.TelemetryAddress,
		"data_dir", cfg.DataDir,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown failed", "error", err)
	}
	if telemetrySrv != nil {
		if err := telemetrySrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	alertDispatcher.Close()
	logger.Info("lendd stopped")
}

// resolveGenesisPath picks the genesis spec location: CLI flag first, then
// environment, then the config file. Empty means no spec is applied.
func resolveGenesisPath(cliPath, cfgPath string) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(os.Getenv(genesisPathEnv)); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(cfgPath)
}

// loadNodeKey decrypts the operator keystore. The passphrase comes from
// LEND_NODE_PASS; locally generated keystores use an empty passphrase.
func loadNodeKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(cfg.NodeKeystorePath) == "" {
		return nil, fmt.Errorf("node keystore path not configured")
	}
	passphrase := os.Getenv(nodePassEnv)
	key, err := crypto.LoadFromKeystore(cfg.NodeKeystorePath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s (set %s): %w", cfg.NodeKeystorePath, nodePassEnv, err)
	}
	return key, nil
}
