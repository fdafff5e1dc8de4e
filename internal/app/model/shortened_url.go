package model

import "time"

// ShortenedURL maps a short code to its original URL. UserID is the opaque
// subject issued by the identity provider.
type ShortenedURL struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	OriginalURL string     `json:"original_url" gorm:"type:text;not null"`
	ShortCode   string     `json:"short_code" gorm:"size:64;not null;uniqueIndex:uk_shortened_urls_short_code"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null;index:idx_shortened_urls_user_created,priority:2,sort:desc"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClickCount  int64      `json:"click_count" gorm:"not null;default:0"`
	UserID      string     `json:"user_id" gorm:"size:450;not null;index:idx_shortened_urls_user_created,priority:1"`

	Clicks []URLClick `json:"-" gorm:"foreignKey:ShortenedURLID;constraint:OnDelete:CASCADE"`
}

func (ShortenedURL) TableName() string { return "shortened_urls" }

// IsExpired reports whether the link's expiry is strictly before now.
func (u *ShortenedURL) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && u.ExpiresAt.Before(now)
}
