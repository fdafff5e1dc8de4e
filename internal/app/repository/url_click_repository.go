package repository

import (
	"context"

	"github.com/sifan077/shortlink/internal/app/model"
	"gorm.io/gorm"
)

// URLClickRepository defines read access to recorded clicks. Clicks are only
// written through ShortenedURLRepository.RecordClick.
type URLClickRepository interface {
	ListByShortenedURL(ctx context.Context, shortenedURLID uint) ([]model.URLClick, error)
}

type urlClickRepository struct {
	db *gorm.DB
}

// NewURLClickRepository returns a GORM-backed URLClickRepository.
func NewURLClickRepository(db *gorm.DB) URLClickRepository {
	return &urlClickRepository{db: db}
}

func (r *urlClickRepository) ListByShortenedURL(ctx context.Context, shortenedURLID uint) ([]model.URLClick, error) {
	var result []model.URLClick
	if err := r.db.WithContext(ctx).
		Where("shortened_url_id = ?", shortenedURLID).
		Order("clicked_at ASC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}
