package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shortlink"

// Label values.
const (
	KindGenerated = "generated"
	KindCustom    = "custom"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

var (
	LinksCreated = promauto.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Short links created, by code kind.",
		},
		[]string{"kind"},
	)

	CodeCollisions = promauto.NewCounter(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Generated short codes that were already taken.",
		},
	)

	Resolutions = promauto.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Short code resolutions, by outcome.",
		},
		[]string{"result"},
	)

	ClickEvents = promauto.NewCounterVec(
		prom.CounterOpts{
			Namespace: namespace,
			Name:      "click_events_total",
			Help:      "Click events consumed from the click stream, by device type.",
		},
		[]string{"device_type"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prom.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prom.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prom.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prom.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)
