package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/pagecomposer/internal/codec"
	cfgpkg "github.com/local/pagecomposer/internal/config"
	"github.com/local/pagecomposer/internal/engine"
	"github.com/local/pagecomposer/internal/filetype"
	"github.com/local/pagecomposer/internal/history"
	"github.com/local/pagecomposer/internal/limiter"
	logpkg "github.com/local/pagecomposer/internal/logger"
	"github.com/local/pagecomposer/internal/metrics"
	"github.com/local/pagecomposer/internal/orchestrator"
	"github.com/local/pagecomposer/internal/statuscheck"
	"github.com/local/pagecomposer/internal/storage"
	"github.com/local/pagecomposer/internal/thumbnail"
)

func main() {
	cfg := cfgpkg.Load()

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

	// History and the thumbnail cache share one Redis; the service runs
	// without both when it is unreachable.
	var (
		hist      *history.RedisStore
		rdb       *redis.Client
		lister    orchestrator.HistoryLister
		redisPing statuscheck.Pinger
	)
	if cfg.History.Enabled {
		var err error
		hist, err = history.NewRedisStore(cfg.Redis.URL, cfg.Redis.HistoryKey, cfg.Redis.HistoryMax)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; history and thumbnail cache disabled")
		} else {
			defer hist.Close()
			rdb = hist.Client()
			lister = hist
			redisPing = hist
		}
	}

	lim := limiter.New(limiter.Options{
		MaxInflight: cfg.Thumbnail.Concurrency,
		Redis:       rdb,
		KeyPrefix:   "pagecomposer:thumb:cooldown",
	})
	thumbOpts := thumbnail.Options{MaxWidth: cfg.Thumbnail.MaxWidth, MaxHeight: cfg.Thumbnail.MaxHeight, Limiter: lim}
	if rdb != nil && cfg.Redis.ThumbnailTTL > 0 {
		thumbOpts.Cache = thumbnail.NewRedisCache(rdb, cfg.Redis.ThumbnailTTL)
	}
	thumbs := thumbnail.New(thumbOpts)

	engOpts := engine.Options{HistoryTimeout: cfg.History.Timeout}
	if hist != nil {
		engOpts.History = hist
	}
	eng := engine.New(codec.New(), engOpts)

	// S3 serves compose sources and results; without a bucket results go to
	// the local results directory.
	var (
		store   orchestrator.ObjectStore
		s3ping  statuscheck.Pinger
		results orchestrator.ResultStore = orchestrator.NewLocalResults(cfg.Storage.ResultDir, cfg.Storage.ResultRetention)
	)
	if cfg.Storage.Bucket != "" {
		s3c, err := storage.NewS3Client(context.Background(), storage.Options{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			log.Warn().Err(err).Msg("s3 unavailable; results stored locally")
		} else {
			store, s3ping = s3c, s3c
			results = orchestrator.NewS3Results(s3c, cfg.Storage.ResultPrefix)
		}
	}

	maxUpload := int64(cfg.HTTP.MaxUploadMB) << 20
	orch := orchestrator.New(orchestrator.Dependencies{
		Engine:   eng,
		Detector: filetype.New(),
		Thumbs:   thumbs,
		History:  lister,
		Sources: orchestrator.NewFetcher(orchestrator.FetcherOptions{
			Store:    store,
			LocalDir: cfg.Storage.SourceDir,
			MaxBytes: maxUpload,
		}),
		Results:        results,
		Status:         statuscheck.New(statuscheck.Options{Redis: redisPing, S3: s3ping, Renderer: lim}),
		MaxUploadBytes: maxUpload,
		HistoryLimit:   cfg.History.ListLimit,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	eng.Close()
	log.Info().Msg("shutdown complete")
}
