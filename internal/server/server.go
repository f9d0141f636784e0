package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/corpus"
	"github.com/roundtablehq/roundtable/internal/engine"
	"github.com/roundtablehq/roundtable/internal/history"
	"github.com/roundtablehq/roundtable/internal/store"
	"github.com/roundtablehq/roundtable/internal/telemetry"
	"github.com/roundtablehq/roundtable/provider"
)

// Run wires storage, the answer engine and the HTTP API together and
// serves until the listener fails. Migrations are applied on startup.
func Run(cfg *config.Config) error {
	ctx := context.Background()
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server: jwt secret not configured")
	}

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	rdb, err := history.Connect(ctx, cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()
	hist := history.New(rdb, cfg.Storage.Redis.HistoryTTL, 0)

	prov, err := provider.NewProvider(cfg.LLM, nil)
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	index, err := corpus.New(prov, corpus.NewTokenizer(cfg.LLM.Encoding), corpus.Config{
		ChunkTokens:  cfg.Retrieval.ChunkTokens,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		Workers:      cfg.Retrieval.IngestWorkers,
	}, nil)
	if err != nil {
		return fmt.Errorf("corpus: %w", err)
	}
	if path := cfg.Retrieval.SnapshotPath; path != "" {
		if err := index.Load(path); err != nil {
			logger.Printf("corpus snapshot %s not loaded: %v (document retrieval starts empty)", path, err)
		}
	}

	tel := telemetry.NewTelemetry(cfg.Telemetry)
	defer tel.Shutdown()

	orch, err := engine.New(cfg, prov, index, tel, nil)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	secret := []byte(cfg.Server.JWTSecret)
	auth := &AuthHandler{Store: st, Secret: secret}
	askHandler := &AskHandler{
		Engine:       orch,
		Store:        st,
		History:      hist,
		HistoryTurns: cfg.Engine.HistoryTurns,
		Logger:       log.New(log.Writer(), "[ASK] ", log.LstdFlags),
	}
	questions := &QuestionsHandler{Store: st}

	sched := &Scheduler{
		Store:  st,
		Rdb:    rdb,
		Engine: orch,
		Logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		Stop:   make(chan struct{}),
	}
	sched.Start()
	defer sched.Shutdown()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := "internal error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprintf("%v", he.Message)
		}
		httpLogger.Printf("%s %s -> %d: %v", c.Request().Method, c.Request().URL.Path, code, err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}

	origins := cfg.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowCredentials: true,
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(authMiddleware(secret))
	askHandler.Register(protected)
	questions.Register(protected.Group("/questions"))

	addr := listenAddr(cfg.Server.Address)
	logger.Printf("listening on %s", addr)
	return e.Start(addr)
}

func listenAddr(addr string) string {
	if addr == "" {
		return ":8080"
	}
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}
