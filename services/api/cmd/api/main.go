package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"spoolhub/internal/ratelimit"
	"spoolhub/internal/util"
	"spoolhub/pkg/queue"
	"spoolhub/pkg/storage"
	"spoolhub/pkg/store"
	"spoolhub/pkg/workflow"
	"spoolhub/services/api/internal/app"
	"spoolhub/services/api/internal/config"
	"spoolhub/services/api/internal/security"
	"spoolhub/services/api/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	shutdownTimeout, err := config.ParseDuration("shutdownTimeout", cfg.ShutdownTimeout, 15*time.Second)
	if err != nil {
		log.Fatalf("failed to parse shutdown timeout: %v", err)
	}
	tokens, refreshTTL, err := buildTokens(cfg)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, closeDocs, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("failed to init document store: %v", err)
	}
	defer closeDocs()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("failed to connect redis: %v", err)
	}
	cancelPing()

	objects, err := buildObjects(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	cleanup, err := queue.NewCleanupQueue(redisClient, queue.Config{
		Stream:     "spoolhub:blob-cleanup",
		Group:      "janitor",
		MaxRetries: cfg.CleanupMaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init cleanup queue: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	appCore, err := app.New(app.Config{
		Store:              docs,
		Sessions:           store.NewRedisSessionCache(redisClient, refreshTTL),
		Objects:            objects,
		Tokens:             tokens,
		Cleanup:            cleanup,
		Metrics:            workflow.NewMetrics(reg),
		JanitorConcurrency: cfg.JanitorConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	loginLimiter, renewLimiter, err := buildLimiters(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init rate limiters: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Gatherer:       reg,
		LoginLimiter:   loginLimiter,
		RenewLimiter:   renewLimiter,
		Alerter:        security.NewAuditAlerter(redisClient, "spoolhub:security"),
		TrustedProxies: trusted,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := appCore.RunJanitor(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func buildStore(cfg config.FileConfig) (store.Store, func(), error) {
	if cfg.DocumentBackend == "memory" {
		slog.Warn("using in-memory document store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		if err := st.Close(); err != nil {
			slog.Error("close document store", "err", err)
		}
	}, nil
}

func buildObjects(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	switch cfg.BlobBackend {
	case "memory":
		slog.Warn("using in-memory blob store; files are lost on restart")
		return storage.NewMemoryStore(cfg.MinioBucket), nil
	case "file":
		return storage.NewFileStore(cfg.BlobDir)
	}
	return storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
}

// buildTokens also returns the refresh lifetime so the session cache can
// expire fingerprints together with the tokens they belong to.
func buildTokens(cfg config.FileConfig) (*store.TokenIssuer, time.Duration, error) {
	accessTTL, err := config.ParseDuration("accessTTL", cfg.AccessTTL, time.Hour)
	if err != nil {
		return nil, 0, err
	}
	refreshTTL, err := config.ParseDuration("refreshTTL", cfg.RefreshTTL, 15*24*time.Hour)
	if err != nil {
		return nil, 0, err
	}
	leeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway, 30*time.Second)
	if err != nil {
		return nil, 0, err
	}

	var access store.SigningKey
	if cfg.JWTPrivateKeyPath != "" {
		verifyFiles, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
		if err != nil {
			return nil, 0, err
		}
		access, err = store.NewRSAKeyFromPEM(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTKeyID, verifyFiles)
		if err != nil {
			return nil, 0, err
		}
	} else {
		access, err = store.NewHMACKey(cfg.JWTAccessSecret)
		if err != nil {
			return nil, 0, err
		}
	}
	refresh, err := store.NewHMACKey(cfg.JWTRefreshSecret)
	if err != nil {
		return nil, 0, err
	}
	issuer, err := store.NewTokenIssuer(access, refresh, store.TokenOptions{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     leeway,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
	})
	if err != nil {
		return nil, 0, err
	}
	return issuer, refreshTTL, nil
}

func buildLimiters(cfg config.FileConfig, client *redis.Client) (ratelimit.Limiter, ratelimit.Limiter, error) {
	if cfg.RateLimitBackend == "memory" {
		login, err := ratelimit.NewTokenBucketLimiter(cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, nil, err
		}
		renew, err := ratelimit.NewTokenBucketLimiter(cfg.RenewRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, nil, err
		}
		return login, renew, nil
	}
	login, err := ratelimit.NewRedisFixedWindowLimiter(client, "spoolhub:ratelimit:login", cfg.LoginRateLimitPerMinute, time.Minute)
	if err != nil {
		return nil, nil, err
	}
	renew, err := ratelimit.NewRedisFixedWindowLimiter(client, "spoolhub:ratelimit:renew", cfg.RenewRateLimitPerMinute, time.Minute)
	if err != nil {
		return nil, nil, err
	}
	return login, renew, nil
}
