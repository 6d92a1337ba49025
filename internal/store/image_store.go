package store

import (
	"context"

	"accountd/internal/domain"

	"gorm.io/gorm"
)

type ImageStore struct{ db *gorm.DB }

func (s *Store) Images() *ImageStore { return &ImageStore{db: s.DB} }

// GetForAccount returns the image the account currently points at.
func (i *ImageStore) GetForAccount(ctx context.Context, accountID domain.AccountID) (*domain.Image, error) {
	var img domain.Image
	err := i.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.profile_image_id = images.id").
		Where("accounts.id = ? AND accounts.deleted_at IS NULL", accountID).
		First(&img).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &img, nil
}

func (i *ImageStore) CountForAccount(ctx context.Context, accountID domain.AccountID) (int64, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&domain.Image{}).Where("account_id = ?", accountID).Count(&n).Error
	return n, err
}
