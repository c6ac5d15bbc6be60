package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"matchvision/internal/analysis"
	"matchvision/internal/api"
	"matchvision/internal/config"
	fileutil "matchvision/internal/file"
	"matchvision/internal/gateway"
	"matchvision/internal/history"
	"matchvision/internal/queue"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	store := queue.NewStore()
	snapshotPath := filepath.Join(cfg.DataDir, "queue.json")
	if err := store.LoadSnapshot(snapshotPath); err != nil {
		log.Warn().Err(err).Msg("queue snapshot not restored")
	}

	hist, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.HistoryDB).Msg("open history db")
	}

	gw := gateway.NewHTTPClient(cfg.GatewayURL, gateway.StaticToken(os.Getenv("MATCHVISION_GATEWAY_TOKEN")))

	orch := analysis.NewOrchestrator(store, gw, historyRecorder{repo: hist}, analysis.Options{
		AllowedTypes:      cfg.AllowedTypes,
		MaxUploadBytes:    cfg.MaxUploadBytes(),
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		InferenceTimeout:  cfg.InferenceTimeout(),
		AnalysisStepDelay: cfg.AnalysisStepDelay(),
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	orch.SetBaseContext(baseCtx)

	seedCtx, seedCancel := context.WithTimeout(baseCtx, 10*time.Second)
	if err := orch.SeedFromListing(seedCtx); err != nil {
		log.Warn().Err(err).Msg("queue not seeded from backend listing")
	}
	seedCancel()

	ticker := analysis.NewTicker(store, analysis.NewRandomDriver(time.Now().UnixNano()), cfg.AmbientTickInterval())
	ticker.Start()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.ZerologLogger())
	apiHandler := api.NewAPI(orch, store, hist, filepath.Join(cfg.DataDir, "exports"), cfg.JWTSecret)
	apiHandler.RegisterRoutes(router)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()
	gracefulShutdown(srv, baseCancel, orch, ticker, store, hist, snapshotPath, shutdownTimeout)
}

// historyRecorder adapts the history repository to the orchestrator's
// recorder contract.
type historyRecorder struct {
	repo *history.Repository
}

func (h historyRecorder) Record(ctx context.Context, run analysis.CompletedRun) error {
	return h.repo.Record(ctx, &history.Analysis{ //nolint:wrapcheck
		UploadID:      run.UploadID,
		Filename:      run.Filename,
		AnalysisType:  string(run.AnalysisType),
		FocusAreas:    run.FocusAreas,
		PlayerService: run.RunPlayer,
		CrowdService:  run.RunCrowd,
		SizeBytes:     run.SizeBytes,
		CompletedAt:   run.CompletedAt,
	})
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, orch *analysis.Orchestrator,
	ticker *analysis.Ticker, store *queue.Store, hist *history.Repository, snapshotPath string, timeout time.Duration,
) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	ticker.Stop()
	cancelBase()
	if !orch.WaitAll(ctx) {
		log.Warn().Msg("background runs did not finish before timeout")
	}
	if err := store.SaveSnapshot(snapshotPath); err != nil {
		log.Warn().Err(err).Msg("queue snapshot not saved")
	}
	if err := hist.Close(); err != nil {
		log.Warn().Err(err).Msg("history db close warning")
	}
	log.Info().Msg("server exited cleanly")
}
