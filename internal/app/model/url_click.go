package model

import "time"

// Device classes derived from the visitor's user agent.
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
)

// BrowserMaxLength is the width of url_clicks.browser, in characters.
const BrowserMaxLength = 128

// URLClick is one successful resolution of a short code. Rows are never updated.
type URLClick struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	ShortenedURLID uint      `json:"shortened_url_id" gorm:"not null;index:idx_url_clicks_shortened_url_id"`
	IPAddress      string    `json:"ip_address" gorm:"size:64;not null;default:''"`
	UserAgent      string    `json:"user_agent" gorm:"type:text;not null;default:''"`
	DeviceType     string    `json:"device_type" gorm:"size:16;not null"`
	Browser        string    `json:"browser" gorm:"size:128;not null"`
	Referrer       string    `json:"referrer" gorm:"type:text;not null;default:''"`
	ClickedAt      time.Time `json:"clicked_at" gorm:"not null;index:idx_url_clicks_clicked_at"`
}

func (URLClick) TableName() string { return "url_clicks" }
