package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/glytch/adapters/events"
	"github.com/layer-3/glytch/adapters/github"
	"github.com/layer-3/glytch/adapters/oracle"
	"github.com/layer-3/glytch/adapters/store"
	"github.com/layer-3/glytch/adapters/tokenizer"
	"github.com/layer-3/glytch/internal/config"
	"github.com/layer-3/glytch/internal/metrics"
	"github.com/layer-3/glytch/ports"
	"github.com/layer-3/glytch/service"
	transport "github.com/layer-3/glytch/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := watermill.NewStdLogger(cfg.LogDebug, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signKey, err := loadSessionKey(cfg.SessionKeyFile)
	if err != nil {
		log.Fatalf("Failed to load session key: %v", err)
	}
	if cfg.SessionKeyFile == "" {
		logger.Info("SESSION_KEY_FILE not set, session cookies will not survive a restart", nil)
	}

	kv, publisher, err := newBackends(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up backends: %v", err)
	}
	defer publisher.Close()

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		log.Fatalf("Failed to dial RPC: %v", err)
	}
	defer rpc.Close()

	// the typed-data domain is useless if it names a different chain than the oracle reads
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		log.Fatalf("Failed to read chain id: %v", err)
	}
	if chainID.Int64() != cfg.ChainID {
		log.Fatalf("RPC chain id %s does not match CHAIN_ID %d", chainID, cfg.ChainID)
	}

	nonceOracle, err := oracle.NewContractOracle(rpc, cfg.Contract())
	if err != nil {
		log.Fatalf("Failed to create nonce oracle: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessions := service.NewSessionStore(kv, logger)
	provider := github.NewProvider(github.Config{
		ClientID:     cfg.GitHubClientID,
		ClientSecret: cfg.GitHubClientSecret,
		RedirectURL:  cfg.GitHubRedirectURL,
		APIURL:       cfg.GitHubAPIURL,
		Timeout:      cfg.GitHubTimeout,
	})

	authService := service.NewAuthService(provider, sessions, m, logger, cfg.IdentityTTL, cfg.LoginIdentityTTL)
	bindingService := service.NewBindingService(sessions, nonceOracle, events.NewWatermillPublisher(publisher), m, logger, service.BindingConfig{
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.Contract(),
		Window:            cfg.VerificationWindow,
	})

	router := transport.SetupRouter(transport.RouterConfig{
		Auth:         authService,
		Binding:      bindingService,
		Tokenizer:    tokenizer.NewJWTTokenizer(signKey),
		Gatherer:     reg,
		Logger:       logger,
		FrontendURL:  cfg.FrontendURL,
		CookieSecure: cfg.CookieSecure,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", err, nil)
		}
	}()

	logger.Info("Starting server", watermill.LogFields{
		"addr":     cfg.HTTPAddr,
		"chain_id": cfg.ChainID,
		"contract": cfg.Contract().Hex(),
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// newBackends picks Redis for sessions and events when REDIS_URL is set,
// otherwise an in-process store and channel
func newBackends(cfg *config.Config, logger watermill.LoggerAdapter) (ports.Store, message.Publisher, error) {
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-memory session store", nil)
		return store.NewMemoryStore(), gochannel.NewGoChannel(gochannel.Config{}, logger), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}

	return store.NewRedisStore(redisClient), publisher, nil
}

func loadSessionKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseECPrivateKeyFromPEM(pemBytes)
}
