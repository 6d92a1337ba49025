package service

import (
	"context"

	"accountd/internal/domain"
)

type ImagePipeline interface {
	Ingest(ctx context.Context, accountID domain.AccountID, raw []byte, declaredContentType string) (*domain.Image, error)
}
