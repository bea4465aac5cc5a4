package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	appanalysis "github.com/DeMost777/UX-Audit/internal/application/analysis"
	"github.com/DeMost777/UX-Audit/internal/config"
	domain "github.com/DeMost777/UX-Audit/internal/domain/analysis"
	"github.com/DeMost777/UX-Audit/internal/domain/runerrors"
	openaiClient "github.com/DeMost777/UX-Audit/internal/infra/ai/openai"
	mysqlp "github.com/DeMost777/UX-Audit/internal/infra/db/mysql"
	postgresp "github.com/DeMost777/UX-Audit/internal/infra/db/postgres"
	"github.com/DeMost777/UX-Audit/internal/infra/detector/rules"
	"github.com/DeMost777/UX-Audit/internal/infra/detector/vision"
	"github.com/DeMost777/UX-Audit/internal/infra/httpserver"
	"github.com/DeMost777/UX-Audit/internal/infra/imaging"
	minioStore "github.com/DeMost777/UX-Audit/internal/infra/storage"
	"github.com/DeMost777/UX-Audit/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect DB sesuai driver
	var (
		repo       domain.Repository
		runErrRepo runerrors.Repository
		dbHealth   *middleware.DatabaseHealthChecker
		dbCloser   interface{ Close() error }
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		repo = postgresp.NewJobRepository(db)
		runErrRepo = postgresp.NewRunErrorRepository(db)
		dbHealth = &middleware.DatabaseHealthChecker{DB: db}
		dbCloser = db
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		repo = mysqlp.NewJobRepository(db)
		runErrRepo = mysqlp.NewRunErrorRepository(db)
		dbHealth = &middleware.DatabaseHealthChecker{DB: db}
		dbCloser = db
	}
	defer dbCloser.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init detectors
	ai := openaiClient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	visionCfg := vision.DefaultConfig()
	if cfg.OpenAI.MaxImageDim > 0 {
		visionCfg.MaxImageDim = cfg.OpenAI.MaxImageDim
	}
	if cfg.OpenAI.MaxFindings > 0 {
		visionCfg.MaxFindings = cfg.OpenAI.MaxFindings
	}
	if cfg.OpenAI.TimeoutSeconds > 0 {
		visionCfg.Timeout = time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second
	}

	// init service
	svc := &appanalysis.Service{
		Repo:     repo,
		Source:   store,
		Metadata: imaging.Extractor{},
		Detectors: []domain.Detector{
			rules.New(),
			vision.New(ai, visionCfg),
		},
		RunErrors: runErrRepo,
		Clock:     appanalysis.SystemClock{},
	}
	if cfg.Analysis.FetchTimeoutSeconds > 0 {
		svc.FetchTimeout = time.Duration(cfg.Analysis.FetchTimeoutSeconds) * time.Second
	}

	// init router
	health := middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database": dbHealth,
	})

	mux := chi.NewRouter()
	mux.Mount("/", httpserver.NewRouter(svc, httpserver.Options{
		MaxUploadBytes:     int64(cfg.Analysis.MaxUploadSizeMB) << 20,
		SignedURLExpirySec: cfg.Analysis.SignedURLExpirySec,
		Health:             health,
		APIKeys:            cfg.Auth.APIKeys,
		RateLimitCapacity:  cfg.Server.RateLimitCapacity,
		RateLimitPerSec:    cfg.Server.RateLimitPerSec,
	}))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
