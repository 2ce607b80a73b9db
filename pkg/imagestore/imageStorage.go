package imagestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-imagepipeline/pkg/logging"
	"github.com/zoff-tech/go-imagepipeline/pkg/telemetry"
	"github.com/zoff-tech/go-imagepipeline/schema"
)

// ImageStorage stores product images in an object store.
type ImageStorage interface {
	// UploadImages stores every image and returns their URLs in input order.
	// On error the returned slice holds the URLs stored before the failure.
	UploadImages(ctx context.Context, images []schema.Image, productID string) ([]string, error)
	// DeleteImages removes the objects behind urls. Failures are logged, never returned.
	DeleteImages(ctx context.Context, urls []string)
}

const timestampLayout = "20060102_150405"

// ObjectKey names the object of the index-th image of a product.
// The timestamp makes keys of different attempts distinct.
func ObjectKey(productID string, index int, img schema.Image, now time.Time) string {
	return fmt.Sprintf("products/%s/image_%d_%s.%s", productID, index, now.Format(timestampLayout), img.Extension())
}

// ObjectURL joins base, bucket and key the way MinIO serves path-style objects.
func ObjectURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
}

// KeyFromURL recovers the object key from a URL built by ObjectURL.
func KeyFromURL(url, bucket string) (string, bool) {
	_, key, found := strings.Cut(url, "/"+bucket+"/")
	if !found || key == "" {
		return "", false
	}
	return key, true
}

func tracer() trace.Tracer {
	return otel.Tracer(telemetry.TracerName)
}

type putFunc func(ctx context.Context, key string, img schema.Image) (string, error)

// uploadAll writes the images one by one and stops at the first failure.
func uploadAll(ctx context.Context, logger *zap.Logger, backend string, images []schema.Image, productID string, now time.Time, put putFunc) ([]string, error) {
	ctx, span := tracer().Start(ctx, "UploadImages", trace.WithAttributes(
		attribute.String("storage.backend", backend),
		attribute.String("product.id", productID),
		attribute.Int("images.count", len(images)),
	))
	defer span.End()

	log := logging.FromContext(ctx, logger)
	log.Info("Uploading images", zap.String("product_id", productID), zap.Int("count", len(images)))

	urls := make([]string, 0, len(images))
	for index, img := range images {
		key := ObjectKey(productID, index, img, now)
		url, err := put(ctx, key, img)
		if err != nil {
			span.RecordError(err)
			log.Error("Failed to upload image",
				zap.String("product_id", productID),
				zap.Int("index", index),
				zap.String("key", key),
				zap.Error(err))
			return urls, fmt.Errorf("upload image %d of product %s: %w", index, productID, err)
		}
		urls = append(urls, url)
		log.Debug("Uploaded image", zap.String("product_id", productID), zap.Int("index", index), zap.String("url", url))
	}

	log.Info("Uploaded images", zap.String("product_id", productID), zap.Int("count", len(urls)))
	return urls, nil
}

type deleteFunc func(ctx context.Context, key string) error

func deleteAll(ctx context.Context, logger *zap.Logger, backend, bucket string, urls []string, del deleteFunc) {
	ctx, span := tracer().Start(ctx, "DeleteImages", trace.WithAttributes(
		attribute.String("storage.backend", backend),
		attribute.Int("images.count", len(urls)),
	))
	defer span.End()

	log := logging.FromContext(ctx, logger)
	for _, url := range urls {
		key, ok := KeyFromURL(url, bucket)
		if !ok {
			log.Warn("Skipping image outside bucket", zap.String("url", url), zap.String("bucket", bucket))
			continue
		}
		if err := del(ctx, key); err != nil {
			span.RecordError(err)
			log.Error("Failed to delete image", zap.String("url", url), zap.Error(err))
			continue
		}
		log.Debug("Deleted image", zap.String("url", url))
	}
}
