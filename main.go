package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vidhost/internal/blob"
	"vidhost/internal/cache"
	"vidhost/internal/handlers"
	"vidhost/internal/memory"
	"vidhost/internal/middleware"
	"vidhost/internal/pipeline"
	"vidhost/internal/query"
	"vidhost/internal/startup"
	"vidhost/internal/store"
	"vidhost/internal/transcoder"
	"vidhost/internal/workers"
)

func main() {
	setupLogging()

	config, err := startup.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}
	startup.LogConfig(config)

	ctx := context.Background()

	st, err := newStore(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metadata store")
	}
	defer st.Close()

	blobs, err := newBlobStore(ctx, config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	var urlCache *cache.Cache
	if config.RedisAddr != "" {
		urlCache, err = cache.New(ctx, cache.Config{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		}, log.With().Str("component", "cache").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to cache")
		}
		defer urlCache.Close()
	}

	trans := transcoder.New(transcoder.Config{
		FFmpegPath:  config.FFmpegPath,
		FFprobePath: config.FFprobePath,
		Timeout:     config.TranscodeTimeout,
	})

	orch := pipeline.NewOrchestrator(st, blobs, trans, pipeline.Config{
		Renditions:   config.Renditions,
		SourceURLTTL: config.SignedURLTTL,
	}, log.With().Str("component", "pipeline").Logger())

	memCfg := memory.DefaultConfig()
	memCfg.LimitBytes = config.MemoryLimit
	monitor := memory.NewMonitor(memCfg, log.With().Str("component", "memory").Logger())
	monitor.Start()
	defer monitor.Stop()

	queue := pipeline.NewQueue(orch, monitor, workers.ForCPU(config.WorkerLimit), config.QueueCapacity,
		config.JobTimeout, log.With().Str("component", "queue").Logger())

	querySvc := query.New(st, blobs, log.With().Str("component", "query").Logger())

	h := handlers.New(st, blobs, queue, querySvc, urlCache, config.SignedURLTTL, config.Renditions)

	router := setupRouter(h)
	handler := middleware.Logger(middleware.Metrics(router))

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own timeouts
		IdleTimeout:  60 * time.Second,
	}

	go handleShutdown(srv, queue, trans)

	log.Info().Str("port", config.Port).Msg("server started")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
}

func newStore(ctx context.Context, config *startup.Config) (store.Store, error) {
	switch config.StoreBackend {
	case startup.StoreDynamoDB:
		return store.NewDynamoDB(ctx, config.DynamoTable)
	default:
		return store.NewSQLite(ctx, config.DatabasePath)
	}
}

func newBlobStore(ctx context.Context, config *startup.Config) (blob.Store, error) {
	switch config.BlobBackend {
	case startup.BlobS3:
		return blob.NewS3(ctx, config.S3Bucket)
	default:
		return blob.NewFS(config.BlobDir, config.PublicBaseURL)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/videos/upload-url", h.CreateUploadURL).Methods("POST")
	api.HandleFunc("/videos/owned", h.ListOwned).Methods("GET")
	api.HandleFunc("/videos", h.CreateVideo).Methods("POST")
	api.HandleFunc("/videos", h.ListPublic).Methods("GET")
	api.HandleFunc("/videos/{id}/status", h.Status).Methods("GET")
	api.HandleFunc("/videos/{id}/stream", h.StreamURL).Methods("GET")
	api.HandleFunc("/videos/{id}/thumbnail", h.ThumbnailURL).Methods("GET")
	api.HandleFunc("/videos/{id}", h.Delete).Methods("DELETE")
	api.HandleFunc("/content/{key:.*}", h.Content).Methods("GET")

	return r
}

func handleShutdown(srv *http.Server, queue *pipeline.Queue, trans *transcoder.Transcoder) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("shutdown initiated")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	if err := queue.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("queue did not drain in time")
	}

	trans.Cleanup()

	log.Info().Msg("shutdown complete")
}
