package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const minPartSize = 5 * 1024 * 1024

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr           string
		AllowedOrigins []string
	}
	Auth struct {
		// JWTSecret verifies the HMAC bearer tokens the orchestrator signs.
		JWTSecret string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir       string
		HeaderTimeout time.Duration
	}
	Upload struct {
		Threshold    int64
		PartSize     int64
		AbortTimeout time.Duration
		// AllowedBuckets may be targeted besides Storage.Bucket.
		AllowedBuckets []string
	}
	Storage struct {
		// Driver selects the upload client: "s3" (aws-sdk-go-v2) or "minio".
		Driver    string
		Bucket    string
		Region    string
		Endpoint  string
		AccessKey string
		SecretKey string
		UseSSL    bool
	}
	Assets struct {
		// BucketURL opens the asset store through gocloud blob (gs://, s3://, file://).
		// When empty, assets are read from Bucket with the storage client.
		BucketURL string
		Bucket    string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("RENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.allowedorigins", []string{})
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("database.path", "data/render-worker.db")
	v.SetDefault("download.datadir", "data/assets")
	v.SetDefault("download.headertimeout", 30*time.Second)
	v.SetDefault("upload.threshold", int64(100*1024*1024))
	v.SetDefault("upload.partsize", int64(100*1024*1024))
	v.SetDefault("upload.aborttimeout", 30*time.Second)
	v.SetDefault("upload.allowedbuckets", []string{})
	v.SetDefault("storage.driver", "s3")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.usessl", true)
	v.SetDefault("assets.bucketurl", "")
	v.SetDefault("assets.bucket", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "s3":
	case "minio":
		if c.Storage.Endpoint == "" {
			errs = append(errs, errors.New("storage endpoint is required for the minio driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth jwt secret is required"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage bucket is required"))
	}
	if c.Upload.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("upload threshold must be positive, got %d", c.Upload.Threshold))
	}
	if c.Upload.PartSize < minPartSize {
		errs = append(errs, fmt.Errorf("upload part size must be at least %d bytes, got %d", minPartSize, c.Upload.PartSize))
	}
	if c.Download.HeaderTimeout <= 0 {
		errs = append(errs, errors.New("download header timeout must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// AssetBucket is the bucket downloads read from when no blob URL is set.
func (c Config) AssetBucket() string {
	if c.Assets.Bucket != "" {
		return c.Assets.Bucket
	}
	return c.Storage.Bucket
}
