package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace/internal/domain"
	"marketplace/internal/metrics"
	"marketplace/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const blobWorkers = 4

// blobWriter stores uploads and removes blobs that are no longer referenced
type blobWriter struct {
	blobs   storage.BlobStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func newBlobWriter(blobs storage.BlobStore, m *metrics.Metrics, logger *zap.Logger) *blobWriter {
	return &blobWriter{blobs: blobs, metrics: m, logger: logger}
}

// save stores uploads concurrently and returns their urls in upload
// order. On failure every blob written so far is removed.
func (b *blobWriter) save(ctx context.Context, uploads []Upload) ([]string, error) {
	urls := make([]string, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobWorkers)

	for i, upload := range uploads {
		g.Go(func() error {
			f, err := upload.Open()
			if err != nil {
				return fmt.Errorf("failed to open upload %q: %w", upload.Filename, err)
			}
			defer f.Close()

			url, err := b.blobs.Save(gctx, f, upload.Filename)
			if err != nil {
				return uploadError(upload.Filename, err)
			}
			urls[i] = url
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.remove(ctx, urls)
		return nil, err
	}
	return urls, nil
}

// remove deletes blobs after their rows are gone. Failures are logged
// and never reach the caller; cancellation of ctx does not stop the cleanup.
func (b *blobWriter) remove(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(blobWorkers)
	for _, url := range urls {
		if url == "" {
			continue
		}
		g.Go(func() error {
			if err := b.blobs.Delete(ctx, url); err != nil {
				b.metrics.ObserveBlobDeleteFailure()
				b.logger.Warn("Failed to delete image blob",
					zap.String("url", url),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func uploadError(filename string, err error) error {
	switch {
	case isStorageRejection(err):
		return domain.Classify(domain.ErrValidation, fmt.Errorf("%s: %w", filename, err))
	default:
		return fmt.Errorf("failed to store upload %q: %w", filename, err)
	}
}

func isStorageRejection(err error) bool {
	for _, target := range []error{storage.ErrInvalidContentType, storage.ErrFileTooLarge, storage.ErrEmptyFile} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
