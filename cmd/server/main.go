package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"seedforge/internal/config"
	apphttp "seedforge/internal/http"
	"seedforge/internal/orchestrator"
	"seedforge/internal/repository/sqlite"
	"seedforge/internal/service"
	"seedforge/internal/state"
	"seedforge/internal/storage"
	"seedforge/internal/torrents"
	"seedforge/internal/transcode"
	"seedforge/internal/watcher"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Auth.PasswordHash) == "" {
		logger.Fatalf("auth password hash is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	catalog := sqlite.NewTorrentRepository(db)
	if err := catalog.Init(ctx); err != nil {
		logger.Fatalf("init torrent catalog: %v", err)
	}

	store := state.NewStore()

	session, err := torrents.NewSession(torrents.Config{
		DataDir:      cfg.Download.DataDir,
		PollInterval: time.Second,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("start torrent session: %v", err)
	}

	torrentSvc := service.NewTorrentService(session, catalog, store, logger)

	var archiveSvc storage.Service
	if cfg.Storage.Enabled {
		archiveSvc, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
	}

	pool := transcode.NewPool(transcode.Config{
		Workers: cfg.Transcoding.MaxParallel,
		Runner:  transcode.NewFFmpegRunner(cfg.Transcoding.FFmpegPath, logger),
		Logger:  logger,
	}, store)

	orch := orchestrator.New(orchestrator.Config{
		TranscodingEnabled: cfg.Transcoding.Enabled,
		Destination:        cfg.Transcoding.Destination,
		AutoPause:          cfg.Download.AutoPause,
		Rules:              cfg.TranscodeRules(),
		ArchiveBucket:      cfg.Storage.Bucket,
		ArchiveKeyPrefix:   cfg.Storage.KeyPrefix,
		Logger:             logger,
	}, torrentSvc, pool, store, archiveSvc)

	pool.SetOnTerminal(orch.HandleJobTerminal(ctx))
	pool.Start(ctx)

	w := watcher.New(store, session, torrentSvc, logger)
	go w.Run(ctx, session.Events())
	go orch.Run(ctx, w.Finished())

	if err := torrentSvc.Restore(ctx); err != nil {
		logger.Warnf("restore torrents: %v", err)
	}

	auth := apphttp.NewAuthenticator(
		cfg.Auth.JWTSecret,
		cfg.Auth.PasswordHash,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(torrentSvc, pool, store, archiveSvc, cfg.Storage.Bucket, nil, auth)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	pool.Shutdown()
	session.Close()

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving transcoded outputs to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
