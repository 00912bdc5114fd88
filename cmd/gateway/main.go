package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bankgate/pkg/audit"
	"bankgate/pkg/auth"
	"bankgate/pkg/events"
	"bankgate/pkg/hardening"
	"bankgate/pkg/httpx"
	"bankgate/pkg/knowledge"
	"bankgate/pkg/ledger"
	"bankgate/pkg/metrics"
	"bankgate/pkg/oracle"
	"bankgate/pkg/orchestrator"
	"bankgate/pkg/ratelimit"
	"bankgate/pkg/session"
	"bankgate/pkg/store"
	"bankgate/pkg/stream"
	"bankgate/pkg/telemetry"
	"bankgate/pkg/tools"
	"bankgate/pkg/transcribe"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	DB                  gatewayDB
	Ledger              ledger.Store
	Users               auth.UserStore
	Sessions            *session.Manager
	Orchestrator        *orchestrator.Orchestrator
	Transcriber         transcribe.Transcriber
	Audit               *audit.Writer
	Metrics             *metrics.Registry
	Events              *stream.Hub
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	AuthSecret          string
	TokenTTL            time.Duration
	MaxRequestBodyBytes int64

	dbReady     bool
	redisReady  bool
	oracleReady bool
}

type gatewayDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type gatewayDBCloser interface {
	gatewayDB
	Close()
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenDBFunc func(ctx context.Context) (gatewayDBCloser, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error
type gatewayStartLoopsFunc func(s *Server)

// Testable variables for main()
var (
	logFatalf      = log.Fatalf
	initTelemetryG = telemetry.Init
	openDBFnG      = func(ctx context.Context) (gatewayDBCloser, error) { return store.NewPostgresPool(ctx) }
	openRedisFnG   = store.NewRedis
	listenFnG      = func(server *http.Server) error { return server.ListenAndServe() }
	startLoopsFnG  = func(s *Server) {
		go s.sessionsGaugeLoop(context.Background())
		s.startEventForwarder(context.Background())
	}
)

func main() {
	if err := runGateway(initTelemetryG, openDBFnG, openRedisFnG, listenFnG, startLoopsFnG); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func runGateway(
	initTelemetry gatewayInitTelemetryFunc,
	openDB gatewayOpenDBFunc,
	openRedis gatewayOpenRedisFunc,
	listen gatewayListenFunc,
	startLoops gatewayStartLoopsFunc,
) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	authSecret := env("JWT_SECRET", "")
	if authSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if err := hardening.ValidateProduction(hardening.Options{
		Service:            "gateway",
		Environment:        env("APP_ENV", ""),
		StrictProdSecurity: env("STRICT_PROD_SECURITY", ""),
		DatabaseRequireTLS: env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		RedisRequireTLS:    env("REDIS_REQUIRE_TLS", ""),
		CORSAllowedOrigins: env("CORS_ALLOWED_ORIGINS", ""),
		RateLimitEnabled:   env("RATE_LIMIT_ENABLED", ""),
		RequiredSecrets: []hardening.SecretRequirement{
			{Name: "JWT_SECRET", Value: authSecret},
			{Name: "AUDIT_HASH_SALT", Value: env("AUDIT_HASH_SALT", "")},
		},
	}); err != nil {
		return fmt.Errorf("hardening: %w", err)
	}

	pool, err := openDB(ctx)
	if err != nil {
		log.Printf("postgres unavailable, falling back to in-memory ledger: %v", err)
		pool = nil
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient, err := openRedis(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := store.NewCache(ctx, redisClient)

	maxRequestBodyBytes := int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20))
	if maxRequestBodyBytes <= 0 {
		maxRequestBodyBytes = 1 << 20
	}

	users, err := auth.NewStaticUsers(env("EXTRA_USERS_JSON", ""))
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}

	s := &Server{
		DB:                  pool,
		Users:               users,
		Sessions:            session.NewManager(env("SESSION_NAMESPACE", "banking_assistant")),
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "true") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 120),
		AuthSecret:          authSecret,
		TokenTTL:            time.Minute * time.Duration(envInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)),
		MaxRequestBodyBytes: maxRequestBodyBytes,
		redisReady:          redisClient != nil,
	}

	s.Ledger, s.dbReady = buildLedger(ctx, pool)
	if pool != nil {
		if err := audit.EnsureSchema(ctx, pool); err != nil {
			log.Printf("audit schema: %v", err)
		}
		s.Audit = &audit.Writer{DB: pool, HashSalt: []byte(env("AUDIT_HASH_SALT", ""))}
	}

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	upstreamClient := telemetry.InstrumentClient(&http.Client{
		Timeout: time.Millisecond * time.Duration(envInt("UPSTREAM_TIMEOUT_MS", 10000)),
	})

	var retriever knowledge.Retriever = knowledge.Disabled{}
	if url := env("RETRIEVER_URL", ""); url != "" {
		retriever = &knowledge.HTTPRetriever{
			BaseURL:    url,
			HTTPClient: upstreamClient,
			TopK:       envInt("RETRIEVER_TOP_K", 3),
			Retries:    envInt("UPSTREAM_RETRIES", 1),
			RetryDelay: time.Millisecond * time.Duration(envInt("UPSTREAM_RETRY_DELAY_MS", 50)),
			Cache:      cache,
			CacheTTL:   time.Second * time.Duration(envInt("RETRIEVER_CACHE_TTL_SEC", 300)),
		}
	}
	gate := knowledge.NewGate(retriever, envFloat("KNOWLEDGE_THRESHOLD", 0.3))

	dispatcher := tools.NewDispatcher(s.Ledger, gate)

	if url := env("ORACLE_URL", ""); url != "" {
		client := oracle.NewClient(url, env("ORACLE_MODEL", "gemini-2.5-flash-lite"), env("ORACLE_API_KEY", ""), 0)
		client.HTTPClient = telemetry.InstrumentClient(&http.Client{
			Timeout: time.Second * time.Duration(envInt("ORACLE_TIMEOUT_SEC", 60)),
		})
		s.Orchestrator = &orchestrator.Orchestrator{
			Oracle:     client,
			Dispatcher: dispatcher,
			Sessions:   s.Sessions,
			Hub:        s.Events,
			Audit:      s.Audit,
			Metrics:    s.Metrics,
			MaxRounds:  envInt("QUERY_MAX_ROUNDS", 8),
			Timeout:    time.Second * time.Duration(envInt("QUERY_TIMEOUT_SEC", 30)),
		}
		s.oracleReady = true
	} else {
		log.Printf("ORACLE_URL not set, query endpoints disabled")
	}

	if url := env("TRANSCRIBE_URL", ""); url != "" {
		tr := transcribe.NewHTTPTranscriber(url, time.Second*time.Duration(envInt("TRANSCRIBE_TIMEOUT_SEC", 30)))
		tr.HTTPClient = telemetry.InstrumentClient(tr.HTTPClient)
		s.Transcriber = tr
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/login", s.rateLimited(s.handleLogin))

	authRouter := chi.NewRouter()
	authRouter.Use(auth.Middleware(s.AuthSecret))
	authRouter.Post("/query", s.rateLimited(s.handleQuery))
	authRouter.Post("/query/voice", s.rateLimited(s.handleVoiceQuery))
	authRouter.Get("/v1/stream", s.streamEvents)
	authRouter.Get("/metrics", s.Metrics.Handler())
	authRouter.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.Mount("/", authRouter)

	if startLoops != nil {
		startLoops(s)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 60),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// buildLedger prefers Postgres and falls back to a seeded in-memory store so
// the gateway stays usable in local development without a database.
func buildLedger(ctx context.Context, pool gatewayDB) (ledger.Store, bool) {
	if pool == nil {
		mem := ledger.NewMemoryStore()
		mem.SeedSampleData()
		return mem, false
	}
	if err := ledger.EnsureSchema(ctx, pool); err != nil {
		log.Printf("ledger schema failed, falling back to in-memory ledger: %v", err)
		mem := ledger.NewMemoryStore()
		mem.SeedSampleData()
		return mem, false
	}
	if env("LEDGER_SEED", "true") == "true" {
		seedLedger(ctx, pool)
	}
	return ledger.NewPostgresStore(pool), true
}

func seedLedger(ctx context.Context, pool gatewayDB) {
	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil || count > 0 {
		return
	}
	mem := ledger.NewMemoryStore()
	mem.SeedSampleData()
	for _, tx := range mem.All() {
		if err := ledger.InsertTransaction(ctx, pool, tx); err != nil {
			log.Printf("ledger seed: %v", err)
			return
		}
	}
	log.Printf("ledger seeded with sample transactions")
}

func (s *Server) startEventForwarder(ctx context.Context) {
	brokers := strings.Split(env("EVENTS_KAFKA_BROKERS", ""), ",")
	topic := env("EVENTS_KAFKA_TOPIC", "")
	if strings.TrimSpace(brokers[0]) == "" || topic == "" {
		return
	}
	pub, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: brokers, Topic: topic})
	if err != nil {
		log.Printf("kafka publisher disabled: %v", err)
		return
	}
	sub := s.Events.Subscribe(256)
	go pub.Forward(ctx, sub)
}

func (s *Server) sessionsGaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Metrics.SetGauge("sessions", float64(s.Sessions.Count()))
		}
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
