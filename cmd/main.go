package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Drivers
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	// Instrumentation
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	// Interne
	"github.com/snowdamiz/vibeslop-sub003/config"
	"github.com/snowdamiz/vibeslop-sub003/internal/adapters/primary/events"
	http_adapter "github.com/snowdamiz/vibeslop-sub003/internal/adapters/primary/http"
	"github.com/snowdamiz/vibeslop-sub003/internal/adapters/secondary/graph"
	"github.com/snowdamiz/vibeslop-sub003/internal/adapters/secondary/repository"
	"github.com/snowdamiz/vibeslop-sub003/internal/adapters/secondary/resilience"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ranking"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/services"
)

func main() {
	// 1. Config & Logger
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	initLogger(cfg)
	slog.Info("🚀 Starting Ranking Service", "config", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Télémétrie (Tracing)
	tp, err := initTracer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to init tracer", "error", err)
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// 3. Infrastructure: Postgres (source de vérité des contenus)
	poolCfg, err := pgxpool.ParseConfig(cfg.DBUrl)
	if err != nil {
		slog.Error("Invalid DB_URL", "error", err)
		os.Exit(1)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("Unable to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.Error("Unable to connect to Postgres", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Postgres")

	// 4. Infrastructure: Redis (curation + tombstones)
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		slog.Error("Failed to instrument Redis", "error", err)
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Unable to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Redis")

	// 5. Infrastructure: Neo4j (graphe social, lecture seule)
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		slog.Error("Unable to create Neo4j driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close(context.Background())
	if err := driver.VerifyConnectivity(ctx); err != nil {
		slog.Error("Unable to connect to Neo4j", "error", err)
		os.Exit(1)
	}
	slog.Info("✅ Connected to Neo4j")

	// 6. Infrastructure: NATS
	nc, err := nats.Connect(cfg.NatsUrl, nats.Name(cfg.ServiceName))
	if err != nil {
		slog.Error("Unable to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("✅ Connected to NATS")

	// 7. Adapters secondaires (protégés par circuit breaker)
	breakerCfg := resilience.DefaultBreakerConfig()
	contentStore := resilience.NewContentStore(repository.NewPostgresRepo(pool), breakerCfg)
	followGraph := resilience.NewFollowGraph(graph.NewNeo4jGraph(driver, ""), breakerCfg)
	curationRepo := repository.NewRedisCurationRepo(rdb)

	// 8. Initialisation du Core
	weights := ranking.DefaultWeights()
	weights.RecencyHalfLife = cfg.RecencyHalfLife
	scorer := ranking.NewScorer(weights)
	boosts := services.NewBoostLoader(curationRepo, cfg.BoostCacheTTL)
	cursors := services.NewCursorCodec([]byte(cfg.CursorSecret), cfg.CursorTTL)

	feedService := services.NewFeedService(contentStore, followGraph, curationRepo, boosts, scorer, cursors, services.FeedConfig{
		ForYouWindow:         cfg.ForYouWindow,
		FollowingWindow:      cfg.FollowingWindow,
		RepostSuppressWindow: cfg.RepostSuppressWindow,
		MaxCandidatesPerType: cfg.MaxCandidatesPerType,
		StoreTimeout:         cfg.StoreTimeout,
	})
	recService := services.NewRecommendationService(contentStore, followGraph, curationRepo, boosts, scorer, services.RecommendationConfig{
		TrendingWindow:        cfg.TrendingWindow,
		MaxTrendingCandidates: cfg.MaxCandidatesPerType,
		MaxUserCandidates:     cfg.MaxCandidatesPerType,
		StoreTimeout:          cfg.StoreTimeout,
	})

	// 9. Consumer NATS (Driving Adapter - Async)
	handler := events.NewEventHandler(curationRepo, curationRepo, boosts, scorer.CurationMultiplier)
	if _, err := handler.Subscribe(nc); err != nil {
		slog.Error("Failed to subscribe to NATS", "error", err)
		os.Exit(1)
	}
	slog.Info("👂 Listening for events (NATS)")

	// 10. Serveur HTTP (Driving Adapter - Sync)
	verifier, err := loadVerifier(cfg)
	if err != nil {
		if cfg.Env == "prod" {
			slog.Error("Unable to load JWT public key", "error", err)
			os.Exit(1)
		}
		slog.Warn("JWT public key unavailable, every request is anonymous", "error", err)
	}

	var h http.Handler = http_adapter.NewServer(feedService, recService, verifier, cfg.RateLimitPerMinute).Routes()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "baggage", "traceparent"},
		AllowCredentials: true,
	})
	h = c.Handler(h)

	h = otelhttp.NewHandler(h, "ranking-http", otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)
	}))

	srvHTTP := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("📡 Ranking HTTP listening", "port", cfg.HTTPPort)
		if err := srvHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// 11. gRPC : health check + reflection pour le mesh
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen", "error", err)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		slog.Info("📡 Ranking gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("🛑 Shutting down server...")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := nc.Drain(); err != nil {
		slog.Warn("NATS drain failed", "error", err)
	}
	grpcServer.GracefulStop()

	slog.Info("👋 Server exited")
}

// --- Helpers ---

func loadVerifier(cfg *config.Config) (*http_adapter.TokenVerifier, error) {
	pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, err
	}
	return http_adapter.NewTokenVerifier(pem, cfg.JWTIssuer)
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Env == "local" {
		opts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Env == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initTracer(ctx context.Context, cfg *config.Config) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OtelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, _ := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Env),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
