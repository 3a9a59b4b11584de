package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/elshodweb/diploma-backend/handlers"
	"github.com/elshodweb/diploma-backend/internal/config"
	"github.com/elshodweb/diploma-backend/internal/database"
	"github.com/elshodweb/diploma-backend/internal/document/handler"
	"github.com/elshodweb/diploma-backend/internal/document/repository"
	"github.com/elshodweb/diploma-backend/internal/document/service"
	"github.com/elshodweb/diploma-backend/internal/ledger"
	"github.com/elshodweb/diploma-backend/internal/oidc"
	"github.com/elshodweb/diploma-backend/internal/sessions"
	"github.com/elshodweb/diploma-backend/internal/storage"
	"github.com/elshodweb/diploma-backend/internal/tokens"
	"github.com/elshodweb/diploma-backend/pkg/logger"
	"github.com/elshodweb/diploma-backend/pkg/metrics"
	"github.com/elshodweb/diploma-backend/pkg/middleware"
	"github.com/elshodweb/diploma-backend/pkg/retry"
)

// app is the wired service: router plus everything that must be released
// on shutdown.
type app struct {
	cfg    *config.Config
	router *gin.Engine
	ledger *ledger.Ledger

	// checks are run by /ready, keyed by dependency name.
	checks  map[string]func(context.Context) error
	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

// Close stops the ledger sequencer first so no commit is cut off, then
// releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, checks: map[string]func(context.Context) error{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		rdb, err = database.ConnectRedis(ctx, addr, cfg.Redis.Password, cfg.Redis.DB, 5*time.Second)
		if err != nil {
			if cfg.Ledger.Backend == "redis" || cfg.RateLimit.UseRedis {
				return nil, err
			}
			logger.Warnf("redis unavailable, token revocation disabled: %v", err)
			rdb, err = nil, nil
		} else {
			a.onClose(func() { _ = rdb.Close() })
			a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
			logger.Infof("connected to redis at %s", addr)
		}
	}

	var mc *mongo.Client
	if cfg.MongoDB.URI != "" {
		mc, err = connectMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = mc.Disconnect(context.Background()) })
		a.checks["mongodb"] = func(ctx context.Context) error { return mc.Ping(ctx, nil) }
	}

	blobs, err := newBlobBackend(cfg)
	if err != nil {
		return nil, err
	}
	rc := retry.DefaultConfig()
	store := storage.NewContentStore(blobs, rc)

	l, err := newLedger(ctx, cfg, rdb, mc, rc, a)
	if err != nil {
		return nil, err
	}
	a.ledger = l

	repo, err := newRepository(ctx, cfg, mc, a)
	if err != nil {
		return nil, err
	}

	ver, err := newVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc := service.New(store, l, repo)
	a.router = newRouter(cfg, svc, ver, sessions.NewRevocations(rdb, ""), rdb, a.checks)
	logger.Infof("wired: storage=%s ledger=%s documents=%s", store.Backend(), l.Network(), cfg.Documents.Store)
	return a, nil
}

// connectMongo retries with backoff to tolerate startup races.
func connectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	var client *mongo.Client
	err := retry.Do(ctx, &retry.Config{MaxRetries: 4, InitialDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 2}, func() error {
		var err error
		client, err = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err != nil {
			logger.Warnf("failed to connect to MongoDB: %v", err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mongodb: %w", err)
	}
	return client, nil
}

func newBlobBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "filesystem":
		c, err := storage.ParseCompression(cfg.Storage.Compression)
		if err != nil {
			return nil, err
		}
		return storage.NewFilesystemBackend(cfg.Storage.Dir, c)
	case "minio":
		return storage.NewMinIOBackend(&storage.MinIOConfig{
			Endpoint:  cfg.Storage.MinIOEndpoint,
			AccessKey: cfg.Storage.MinIOAccessKey,
			SecretKey: cfg.Storage.MinIOSecretKey,
			UseSSL:    cfg.Storage.MinIOUseSSL,
			Bucket:    cfg.Storage.MinIOBucket,
		})
	}
	return storage.NewMemoryBackend(), nil
}

func newLedger(ctx context.Context, cfg *config.Config, rdb *redis.Client, mc *mongo.Client, rc *retry.Config, a *app) (*ledger.Ledger, error) {
	secret := cfg.Ledger.ChainSecret
	if secret == "" {
		logger.Warn("LEDGER_CHAIN_SECRET is not set; using a development chain key")
		secret = "development"
	}
	key := ledger.DeriveChainKey(secret)

	var backend ledger.CommitBackend
	switch cfg.Ledger.Backend {
	case "redis":
		backend = ledger.NewRedisChain(rdb, key, cfg.Ledger.RedisPrefix)
	default:
		if cfg.Ledger.Journal == "" {
			backend = ledger.NewHashChain(key)
			break
		}
		hc, err := ledger.OpenHashChain(key, cfg.Ledger.Journal)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = hc.Close() })
		backend = hc
	}

	var entries ledger.EntryStore
	if mc != nil {
		es, err := ledger.NewMongoEntryStore(ctx, mc.Database(cfg.MongoDB.Database).Collection("ledger_entries"))
		if err != nil {
			return nil, err
		}
		entries = es
	} else {
		logger.Warn("MONGODB_URI is not set; ledger entries are kept in memory")
		entries = ledger.NewMemoryEntryStore()
	}

	lrc := *rc
	lrc.MaxRetries = cfg.Ledger.CommitRetries
	return ledger.New(ctx, backend, entries, ledger.Config{Retry: &lrc, CommitTimeout: cfg.Ledger.CommitTimeout})
}

func newRepository(ctx context.Context, cfg *config.Config, mc *mongo.Client, a *app) (repository.Repository, error) {
	switch cfg.Documents.Store {
	case "mongo":
		return repository.NewMongoRepo(ctx, mc.Database(cfg.MongoDB.Database).Collection("documents"))
	case "postgres":
		if err := database.RunMigrations(cfg.Postgres.URL, logger.Named("migrate")); err != nil {
			return nil, err
		}
		pool, err := database.ConnectPostgres(ctx, database.PostgresConfig{URL: cfg.Postgres.URL, MaxConnections: cfg.Postgres.MaxConnections})
		if err != nil {
			return nil, err
		}
		a.onClose(pool.Close)
		a.checks["postgres"] = pool.Ping
		return repository.NewPostgresRepo(pool), nil
	}
	return repository.NewMemoryRepo(), nil
}

// newVerifier prefers Keycloak, then the insecure verifier when
// ALLOW_INSECURE_TOKEN=true, then HS256 tokens signed with JWT_SECRET.
func newVerifier(ctx context.Context, cfg *config.Config) (middleware.Verifier, error) {
	if cfg.Keycloak.URL != "" && cfg.Keycloak.Realm != "" {
		ver, err := oidc.NewVerifier(ctx, oidc.KeycloakIssuer(cfg.Keycloak.URL, cfg.Keycloak.Realm), cfg.Keycloak.ClientID)
		if err != nil {
			return nil, err
		}
		logger.Infof("using Keycloak realm %s for authentication", cfg.Keycloak.Realm)
		return ver, nil
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") && !cfg.IsProduction() {
		logger.Warn("enabling insecure token verifier (integration mode)")
		return oidc.NewInsecureVerifier(), nil
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("no token verifier: set KEYCLOAK_URL and KEYCLOAK_REALM, or JWT_SECRET")
	}
	return tokens.NewHMACVerifier(cfg.JWT.Secret), nil
}

var startTime = time.Now()

func newRouter(cfg *config.Config, svc service.Service, ver middleware.Verifier, rev *sessions.Revocations, rdb *redis.Client, checks map[string]func(context.Context) error) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		ready := true
		deps := map[string]bool{}
		for name, check := range checks {
			err := check(ctx)
			deps[name] = err == nil
			if err != nil {
				logger.Warnf("readiness: %s: %v", name, err)
				ready = false
			}
		}
		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.RegisterSwagger(r)

	authed := r.Group("/", middleware.AuthMiddleware(ver, rev))
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && rdb != nil {
			authed.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
		} else {
			authed.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}
	var revoker handlers.Revoker
	if rdb != nil {
		revoker = rev
	}
	handlers.NewAuthHandler(cfg, revoker).Register(r.Group("/api"), authed.Group("/api"))
	handler.RegisterDocumentRoutes(authed, svc, cfg.Documents.MaxUploadBytes)
	return r
}
