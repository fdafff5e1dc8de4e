package model

import "time"

// URLStatistics aggregates the recorded clicks of one short code.
// TotalClicks is the stored counter, not a recount of click rows.
type URLStatistics struct {
	ShortCode   string     `json:"short_code"`
	OriginalURL string     `json:"original_url"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TotalClicks int64      `json:"total_clicks"`

	ClicksByDevice   map[string]int64 `json:"clicks_by_device"`
	ClicksByReferrer map[string]int64 `json:"clicks_by_referrer"`
	ClicksByDate     map[string]int64 `json:"clicks_by_date"`
	ClicksByBrowser  map[string]int64 `json:"clicks_by_browser"`
}

// DateLayout keys ClicksByDate.
const DateLayout = "2006-01-02"
