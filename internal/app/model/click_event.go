package model

import "time"

// ClickEvent is published on the click stream after a click has been committed.
type ClickEvent struct {
	ID         string    `json:"id"`
	ShortCode  string    `json:"short_code"`
	DeviceType string    `json:"device_type"`
	Browser    string    `json:"browser"`
	Referrer   string    `json:"referrer"`
	IP         string    `json:"ip"`
	ClickedAt  time.Time `json:"clicked_at"`
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.events"
	ClickConsumerName   = "click-metrics"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
