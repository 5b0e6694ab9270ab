package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"render-worker/internal/config"
	"render-worker/internal/downloader"
	apphttp "render-worker/internal/http"
	"render-worker/internal/repository/sqlite"
	"render-worker/internal/service"
	"render-worker/internal/storage"
	"render-worker/internal/uploader"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	configureLogger(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	transferRepo := sqlite.NewTransferRepository(db)
	if err := transferRepo.Init(ctx); err != nil {
		logger.Fatalf("init transfer repository: %v", err)
	}

	client, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	assets, closeAssets, err := buildAssetSource(ctx, cfg, client, logger)
	if err != nil {
		logger.Fatalf("setup asset source: %v", err)
	}
	defer closeAssets()

	up, err := uploader.New(client, uploader.Options{
		Threshold:    cfg.Upload.Threshold,
		PartSize:     cfg.Upload.PartSize,
		AbortTimeout: cfg.Upload.AbortTimeout,
	}, uploader.NewLogrusLogger(logrus.NewEntry(logger)))
	if err != nil {
		logger.Fatalf("setup uploader: %v", err)
	}

	down := downloader.New(assets, downloader.Options{HeaderTimeout: cfg.Download.HeaderTimeout})
	transferService := service.NewTransferService(transferRepo, down, up, logger)

	if n, err := transferService.FailInterrupted(ctx); err != nil {
		logger.Warnf("fail interrupted transfers: %v", err)
	} else if n > 0 {
		logger.Warnf("marked %d interrupted transfers as failed", n)
	}

	if err := os.MkdirAll(cfg.Download.DataDir, 0o755); err != nil {
		logger.Fatalf("create data dir: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(transferService, apphttp.Options{
		DefaultBucket:  cfg.Storage.Bucket,
		AllowedBuckets: cfg.Upload.AllowedBuckets,
		DataRoot:       cfg.Download.DataDir,
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	handler.RegisterRoutes(router)

	srv := apphttp.NewServer(ctx, cfg.Server.Addr, router)

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	// ctx is the base context of every request, so in-flight uploads are
	// already cancelled and aborting; Shutdown waits for them to return.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Upload.AbortTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func configureLogger(logger *logrus.Logger, cfg config.Config) {
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Client, error) {
	if cfg.Storage.Driver == "minio" {
		client, err := storage.NewMinioClient(
			cfg.Storage.Endpoint,
			cfg.Storage.AccessKey,
			cfg.Storage.SecretKey,
			cfg.Storage.Region,
			cfg.Storage.UseSSL,
		)
		if err != nil {
			return nil, err
		}
		logger.Infof("using minio endpoint %s bucket %s", cfg.Storage.Endpoint, cfg.Storage.Bucket)
		return client, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	if cfg.Storage.AccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		))
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
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Client(client), nil
}

func buildAssetSource(ctx context.Context, cfg config.Config, client storage.Client, logger *logrus.Logger) (downloader.ObjectSource, func(), error) {
	if cfg.Assets.BucketURL == "" {
		logger.Infof("reading assets from bucket %s", cfg.AssetBucket())
		return storage.NewBucketReader(client, cfg.AssetBucket()), func() {}, nil
	}

	bucket, err := blob.OpenBucket(ctx, cfg.Assets.BucketURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open asset bucket: %w", err)
	}
	logger.Infof("reading assets from %s", cfg.Assets.BucketURL)
	return downloader.NewBlobSource(bucket), func() {
		if err := bucket.Close(); err != nil {
			logger.Warnf("close asset bucket: %v", err)
		}
	}, nil
}
