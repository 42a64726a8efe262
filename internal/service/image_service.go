package service

import (
	"context"

	"marketplace/internal/domain"
	"marketplace/internal/imageset"
	"marketplace/internal/metrics"
	"marketplace/internal/storage"

	"go.uber.org/zap"
)

// ImageService stores images ahead of a product create. The returned urls are
// passed back as image specs.
type ImageService interface {
	Upload(ctx context.Context, principal domain.Principal, uploads []Upload) ([]string, error)
}

type imageService struct {
	writer *blobWriter
	logger *zap.Logger
}

func NewImageService(blobs storage.BlobStore, m *metrics.Metrics, logger *zap.Logger) ImageService {
	return &imageService{writer: newBlobWriter(blobs, m, logger), logger: logger}
}

func (s *imageService) Upload(ctx context.Context, principal domain.Principal, uploads []Upload) ([]string, error) {
	if err := requireActive(principal); err != nil {
		return nil, err
	}
	if err := imageset.CheckCount(len(uploads)); err != nil {
		return nil, err
	}

	urls, err := s.writer.save(ctx, uploads)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Images uploaded",
		zap.String("user_id", principal.UserID.String()),
		zap.Int("count", len(urls)),
	)
	return urls, nil
}
