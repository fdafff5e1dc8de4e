package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/shortlink/internal/app/model"
	"github.com/sifan077/shortlink/internal/app/repository"
	metrics "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds the generate-check-insert loop of Shorten.
const DefaultMaxAttempts = 10

// ShortenerService allocates short codes, resolves them while recording
// clicks, and reports per-owner statistics.
type ShortenerService interface {
	Shorten(ctx context.Context, input ShortenInput) (*model.ShortenedURL, error)
	Resolve(ctx context.Context, code string, rc RequestContext) (string, error)
	GetStats(ctx context.Context, code, userID string) (*model.URLStatistics, error)
	ListMine(ctx context.Context, userID string) ([]model.ShortenedURL, error)
}

// ShortenInput captures data required to create a short link.
type ShortenInput struct {
	OriginalURL string
	UserID      string
	// CustomCode is used verbatim when non-empty.
	CustomCode string
	ExpiresAt  *time.Time
}

// RequestContext carries visitor details captured by the transport layer.
// Absent values are empty strings.
type RequestContext struct {
	IPAddress string
	UserAgent string
	Referrer  string
}

// ClickNotifier receives committed clicks. Publish must not block on I/O.
type ClickNotifier interface {
	Publish(event model.ClickEvent) error
}

// ShortenerDeps groups dependencies of the shortener service.
type ShortenerDeps struct {
	URLs       repository.ShortenedURLRepository
	Clicks     repository.URLClickRepository
	Generator  CodeGenerator
	Classifier Classifier
	Notifier   ClickNotifier
	Logger     *zap.Logger

	MaxAttempts int
	Now         func() time.Time
}

type shortenerService struct {
	urls        repository.ShortenedURLRepository
	clicks      repository.URLClickRepository
	generator   CodeGenerator
	classifier  Classifier
	notifier    ClickNotifier
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// NewShortenerService returns a service backed by the given repositories.
func NewShortenerService(deps ShortenerDeps) ShortenerService {
	s := &shortenerService{
		urls:        deps.URLs,
		clicks:      deps.Clicks,
		generator:   deps.Generator,
		classifier:  deps.Classifier,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		maxAttempts: deps.MaxAttempts,
		now:         deps.Now,
	}
	if s.generator == nil {
		s.generator = NewRandomCodeGenerator(DefaultCodeLength)
	}
	if s.classifier == nil {
		s.classifier = DefaultClassifier
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *shortenerService) Shorten(ctx context.Context, input ShortenInput) (*model.ShortenedURL, error) {
	if input.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if !isAbsoluteURI(input.OriginalURL) {
		return nil, fmt.Errorf("%w: original url must be an absolute URI", ErrInvalidInput)
	}

	if input.CustomCode != "" {
		return s.createWithCustomCode(ctx, input)
	}
	return s.createWithGeneratedCode(ctx, input)
}

func (s *shortenerService) createWithCustomCode(ctx context.Context, input ShortenInput) (*model.ShortenedURL, error) {
	exists, err := s.urls.ExistsByCode(ctx, input.CustomCode)
	if err != nil {
		return nil, storageFailure("check custom code", err)
	}
	if exists {
		return nil, ErrCodeConflict
	}

	record := s.newRecord(input, input.CustomCode)
	if err := s.urls.Create(ctx, record); err != nil {
		// Lost a race against a concurrent allocator after the pre-check.
		if errors.Is(err, repository.ErrShortCodeTaken) {
			return nil, ErrCodeConflict
		}
		return nil, storageFailure("create link", err)
	}

	metrics.LinksCreated.WithLabelValues(metrics.KindCustom).Inc()
	s.logger.Info("short link created",
		zap.String("code", record.ShortCode),
		zap.String("user_id", record.UserID),
		zap.Bool("custom", true),
	)
	return record, nil
}

func (s *shortenerService) createWithGeneratedCode(ctx context.Context, input ShortenInput) (*model.ShortenedURL, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		code, err := s.generator.NewCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}

		exists, err := s.urls.ExistsByCode(ctx, code)
		if err != nil {
			return nil, storageFailure("check generated code", err)
		}
		if exists {
			s.recordCollision(code, attempt)
			continue
		}

		record := s.newRecord(input, code)
		err = s.urls.Create(ctx, record)
		if err == nil {
			metrics.LinksCreated.WithLabelValues(metrics.KindGenerated).Inc()
			s.logger.Info("short link created",
				zap.String("code", record.ShortCode),
				zap.String("user_id", record.UserID),
				zap.Int("attempt", attempt),
			)
			return record, nil
		}
		if !errors.Is(err, repository.ErrShortCodeTaken) {
			return nil, storageFailure("create link", err)
		}
		s.recordCollision(code, attempt)
	}

	s.logger.Error("short code allocation exhausted", zap.Int("max_attempts", s.maxAttempts))
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, s.maxAttempts)
}

func (s *shortenerService) recordCollision(code string, attempt int) {
	metrics.CodeCollisions.Inc()
	s.logger.Debug("generated short code collided",
		zap.String("code", code),
		zap.Int("attempt", attempt),
	)
}

func (s *shortenerService) newRecord(input ShortenInput, code string) *model.ShortenedURL {
	record := &model.ShortenedURL{
		OriginalURL: input.OriginalURL,
		ShortCode:   code,
		CreatedAt:   s.now().UTC(),
		ClickCount:  0,
		UserID:      input.UserID,
	}
	if input.ExpiresAt != nil {
		expiresAt := input.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	return record
}

func (s *shortenerService) Resolve(ctx context.Context, code string, rc RequestContext) (string, error) {
	link, err := s.urls.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrURLNotFound) {
			metrics.Resolutions.WithLabelValues(metrics.ResultMiss).Inc()
			return "", ErrNotFound
		}
		return "", storageFailure("load link", err)
	}

	now := s.now().UTC()
	if link.IsExpired(now) {
		metrics.Resolutions.WithLabelValues(metrics.ResultMiss).Inc()
		return "", ErrNotFound
	}

	class := s.classifier.Classify(rc.UserAgent)
	click := &model.URLClick{
		ShortenedURLID: link.ID,
		IPAddress:      rc.IPAddress,
		UserAgent:      rc.UserAgent,
		DeviceType:     class.DeviceType,
		Browser:        class.Browser,
		Referrer:       rc.Referrer,
		ClickedAt:      now,
	}
	if err := s.urls.RecordClick(ctx, click); err != nil {
		// The link was deleted between lookup and write.
		if errors.Is(err, repository.ErrURLNotFound) {
			metrics.Resolutions.WithLabelValues(metrics.ResultMiss).Inc()
			return "", ErrNotFound
		}
		return "", storageFailure("record click", err)
	}

	metrics.Resolutions.WithLabelValues(metrics.ResultHit).Inc()
	s.notifyClick(link.ShortCode, click)
	return link.OriginalURL, nil
}

func (s *shortenerService) notifyClick(code string, click *model.URLClick) {
	if s.notifier == nil {
		return
	}
	event := model.ClickEvent{
		ID:         uuid.New().String(),
		ShortCode:  code,
		DeviceType: click.DeviceType,
		Browser:    click.Browser,
		Referrer:   click.Referrer,
		IP:         click.IPAddress,
		ClickedAt:  click.ClickedAt,
	}
	if err := s.notifier.Publish(event); err != nil {
		s.logger.Warn("failed to publish click event", zap.Error(err), zap.String("code", code))
	}
}

func (s *shortenerService) GetStats(ctx context.Context, code, userID string) (*model.URLStatistics, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	link, err := s.urls.GetByCodeAndOwner(ctx, code, userID)
	if err != nil {
		if errors.Is(err, repository.ErrURLNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageFailure("load link", err)
	}

	clicks, err := s.clicks.ListByShortenedURL(ctx, link.ID)
	if err != nil {
		return nil, storageFailure("load clicks", err)
	}

	return aggregateClicks(link, clicks), nil
}

func (s *shortenerService) ListMine(ctx context.Context, userID string) ([]model.ShortenedURL, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	links, err := s.urls.ListByOwner(ctx, userID)
	if err != nil {
		return nil, storageFailure("list links", err)
	}
	return links, nil
}

// isAbsoluteURI accepts any URI with a scheme and either an authority or an
// opaque part, e.g. "https://example.com/x" or "mailto:a@b.c".
func isAbsoluteURI(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return false
	}
	return u.Host != "" || u.Opaque != ""
}
