package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sifan077/shortlink/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrURLNotFound signals that the requested short code does not exist.
	ErrURLNotFound = errors.New("shortened url not found")
	// ErrShortCodeTaken signals a unique-index violation on short_code.
	ErrShortCodeTaken = errors.New("short code already taken")
)

const pgUniqueViolation = "23505"

// ShortenedURLRepository defines the data access contract for shortened URLs.
type ShortenedURLRepository interface {
	Create(ctx context.Context, url *model.ShortenedURL) error
	ExistsByCode(ctx context.Context, code string) (bool, error)
	GetByCode(ctx context.Context, code string) (*model.ShortenedURL, error)
	GetByCodeAndOwner(ctx context.Context, code, userID string) (*model.ShortenedURL, error)
	ListByOwner(ctx context.Context, userID string) ([]model.ShortenedURL, error)
	// RecordClick inserts the click and bumps click_count in one transaction.
	RecordClick(ctx context.Context, click *model.URLClick) error
}

type shortenedURLRepository struct {
	db *gorm.DB
}

// NewShortenedURLRepository returns a GORM-backed ShortenedURLRepository.
func NewShortenedURLRepository(db *gorm.DB) ShortenedURLRepository {
	return &shortenedURLRepository{db: db}
}

func (r *shortenedURLRepository) Create(ctx context.Context, url *model.ShortenedURL) error {
	if err := r.db.WithContext(ctx).Omit("Clicks").Create(url).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrShortCodeTaken
		}
		return err
	}
	return nil
}

func (r *shortenedURLRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.ShortenedURL{}).
		Where("short_code = ?", code).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *shortenedURLRepository) GetByCode(ctx context.Context, code string) (*model.ShortenedURL, error) {
	var url model.ShortenedURL
	if err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&url).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrURLNotFound
		}
		return nil, err
	}
	return &url, nil
}

func (r *shortenedURLRepository) GetByCodeAndOwner(ctx context.Context, code, userID string) (*model.ShortenedURL, error) {
	var url model.ShortenedURL
	if err := r.db.WithContext(ctx).
		Where("short_code = ? AND user_id = ?", code, userID).
		First(&url).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrURLNotFound
		}
		return nil, err
	}
	return &url, nil
}

func (r *shortenedURLRepository) ListByOwner(ctx context.Context, userID string) ([]model.ShortenedURL, error) {
	result := make([]model.ShortenedURL, 0)
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *shortenedURLRepository) RecordClick(ctx context.Context, click *model.URLClick) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ShortenedURL{}).
			Where("id = ?", click.ShortenedURLID).
			UpdateColumn("click_count", gorm.Expr("click_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrURLNotFound
		}
		return tx.Create(click).Error
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
