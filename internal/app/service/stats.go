package service

import "github.com/sifan077/shortlink/internal/app/model"

func aggregateClicks(link *model.ShortenedURL, clicks []model.URLClick) *model.URLStatistics {
	stats := &model.URLStatistics{
		ShortCode:        link.ShortCode,
		OriginalURL:      link.OriginalURL,
		CreatedAt:        link.CreatedAt,
		ExpiresAt:        link.ExpiresAt,
		TotalClicks:      link.ClickCount,
		ClicksByDevice:   make(map[string]int64),
		ClicksByReferrer: make(map[string]int64),
		ClicksByDate:     make(map[string]int64),
		ClicksByBrowser:  make(map[string]int64),
	}

	for _, c := range clicks {
		stats.ClicksByDevice[c.DeviceType]++
		stats.ClicksByReferrer[c.Referrer]++
		stats.ClicksByDate[c.ClickedAt.UTC().Format(model.DateLayout)]++
		stats.ClicksByBrowser[c.Browser]++
	}
	return stats
}
