package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/deckupload/internal/ai"
	"github.com/local/deckupload/internal/classifier"
	cfgpkg "github.com/local/deckupload/internal/config"
	"github.com/local/deckupload/internal/converter"
	"github.com/local/deckupload/internal/events"
	"github.com/local/deckupload/internal/limiter"
	logpkg "github.com/local/deckupload/internal/logger"
	"github.com/local/deckupload/internal/metrics"
	"github.com/local/deckupload/internal/orchestrator"
	"github.com/local/deckupload/internal/records"
	"github.com/local/deckupload/internal/scan"
	"github.com/local/deckupload/internal/statuscheck"
	"github.com/local/deckupload/internal/storage"
	"github.com/local/deckupload/internal/store"
	"github.com/local/deckupload/internal/workspace"
)

// blobBackend is what both storage backends provide.
type blobBackend interface {
	orchestrator.BlobStore
	statuscheck.Pinger
}

// processor converts and extracts; both converter modes implement it.
type processor interface {
	orchestrator.Converter
	orchestrator.Extractor
	statuscheck.Availabler
}

func main() {
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()
	ctx := context.Background()

	// Workspaces left behind by a crashed process
	ws := workspace.New(cfg.Pipeline.WorkspaceRoot)
	if n := ws.Sweep(cfg.Pipeline.WorkspaceMaxAge); n > 0 {
		log.Info().Int("removed", n).Str("root", ws.Root()).Msg("removed stale workspaces")
	}

	// Database
	db, err := records.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := records.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}
	recs := records.NewPostgresStore(db)

	// Blob store
	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("failed to init blob store")
	}

	// Converter
	proc := newProcessor(cfg.Converter)
	if err := proc.Available(); err != nil {
		log.Warn().Err(err).Str("mode", cfg.Converter.Mode).Msg("converter not available, uploads will fail until it is installed")
	}

	// Classifier
	apiKey := cfg.Classifier.OpenAIKey
	if cfg.Classifier.Engine == "anthropic" {
		apiKey = cfg.Classifier.AnthropicKey
	}
	client, err := ai.New(cfg.Classifier.Engine, ai.Config{APIKey: apiKey, BaseURL: cfg.Classifier.BaseURL})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init classifier client")
	}
	cls := classifier.New(client, cfg.Classifier.Model, cfg.Classifier.Timeout)

	// Rate-limit cooldown is shared through Redis when available.
	var breaker limiter.Breaker = limiter.NewMemoryBreaker(cfg.Classifier.CooldownBase, cfg.Classifier.CooldownMax)
	if cfg.RedisURL != "" {
		rb, err := limiter.NewRedisBreaker(cfg.RedisURL, cfg.Classifier.CooldownBase, cfg.Classifier.CooldownMax)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init classifier breaker")
		}
		defer rb.CloseClient()
		breaker = rb
	}
	guarded := limiter.NewGuard(cls, breaker, cfg.Classifier.Engine, cfg.Classifier.Model, cfg.Classifier.MaxInflight)

	deps := orchestrator.Dependencies{
		Workspace:  ws,
		Converter:  proc,
		Extractor:  proc,
		Classifier: guarded,
		Blobs:      blobs,
		Records:    recs,
	}
	health := statuscheck.Options{
		Database:  recs,
		Storage:   blobs,
		Converter: proc,
		Engine:    cfg.Classifier.Engine,
		APIKey:    apiKey,
		BaseURL:   cfg.Classifier.BaseURL,
	}

	// Optional services
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStatus(cfg.RedisURL, 24*time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis status store")
		}
		defer rs.Close()
		deps.Status = rs
		health.Redis = rs
	}
	if cfg.NATSURL != "" {
		pub, err := events.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer pub.Close()
		deps.Events = pub
		health.NATS = pub
	}
	if cfg.ClamAV != "" {
		av := scan.NewClamAV(cfg.ClamAV)
		deps.Scanner = av
		health.ClamAV = av
	}
	deps.Health = statuscheck.New(health)

	orch := orchestrator.New(deps, orchestrator.Options{
		Namespace:         cfg.Storage.Namespace,
		MinPages:          cfg.Pipeline.MinPages,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		PublicBaseURL:     cfg.Server.PublicBaseURL,
		UploadConcurrency: cfg.Pipeline.UploadConcurrency,
		ClassifierEngine:  cfg.Classifier.Engine,
		ClassifierModel:   cfg.Classifier.Model,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown; conversions can take minutes.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown incomplete")
	}
	fmt.Println("shutdown complete")
}

func newBlobStore(ctx context.Context, c cfgpkg.StorageConfig) (blobBackend, error) {
	switch c.Backend {
	case "minio":
		return storage.NewMinioStore(ctx, c.Endpoint, c.AccessKey, c.SecretKey, c.Bucket, c.UseSSL)
	case "s3", "r2", "":
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    c.Bucket,
			Region:    c.Region,
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

func newProcessor(c cfgpkg.ConverterConfig) processor {
	if c.Mode == "native" {
		return converter.NewNative(c.LibreOffice, 2, c.Timeout)
	}
	return converter.NewScript(c.Interpreter, c.ConvertScript, c.ExtractScript, c.Timeout)
}
