package imagestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/config"
	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

const gcsBaseURL = "https://storage.googleapis.com"

// GCSAPI is the bucket level surface of Google Cloud Storage the storage calls.
type GCSAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, projectID string) error
	WriteObject(ctx context.Context, bucket, key, contentType string, data []byte) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// GCSClient adapts *storage.Client to GCSAPI.
type GCSClient struct {
	Client *storage.Client
}

func (g GCSClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := g.Client.Bucket(bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (g GCSClient) CreateBucket(ctx context.Context, bucket, projectID string) error {
	return g.Client.Bucket(bucket).Create(ctx, projectID, nil)
}

func (g GCSClient) WriteObject(ctx context.Context, bucket, key, contentType string, data []byte) error {
	w := g.Client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (g GCSClient) DeleteObject(ctx context.Context, bucket, key string) error {
	return g.Client.Bucket(bucket).Object(key).Delete(ctx)
}

// GCSStorage writes images to a Google Cloud Storage bucket.
type GCSStorage struct {
	client  GCSAPI
	bucket  string
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewGCSStorage makes sure the bucket exists and returns the storage.
func NewGCSStorage(ctx context.Context, client GCSAPI, cfg config.StorageSettings, logger *zap.Logger) (*GCSStorage, error) {
	g := &GCSStorage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: gcsBaseURL,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
	if cfg.PublicURL != "" {
		g.baseURL = cfg.PublicURL
	}

	ctx, span := tracer().Start(ctx, "EnsureBucket")
	defer span.End()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.CreateBucket(ctx, cfg.Bucket, cfg.ProjectID); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		g.logger.Info("Created bucket", zap.String("bucket", cfg.Bucket))
	}
	return g, nil
}

func (g *GCSStorage) UploadImages(ctx context.Context, images []schema.Image, productID string) ([]string, error) {
	return uploadAll(ctx, g.logger, "gcs", images, productID, g.now(), func(ctx context.Context, key string, img schema.Image) (string, error) {
		if err := g.client.WriteObject(ctx, g.bucket, key, img.ContentType, img.Data); err != nil {
			return "", err
		}
		return ObjectURL(g.baseURL, g.bucket, key), nil
	})
}

func (g *GCSStorage) DeleteImages(ctx context.Context, urls []string) {
	deleteAll(ctx, g.logger, "gcs", g.bucket, urls, func(ctx context.Context, key string) error {
		return g.client.DeleteObject(ctx, g.bucket, key)
	})
}
