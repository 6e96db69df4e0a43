// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	NoteVersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notes_version_conflicts_total",
			Help: "Updates rejected because the note version had moved",
		},
	)

	NotesShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notes_shared_total",
			Help: "Successful share requests",
		},
	)

	PublicCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "public_note_cache_lookups_total",
			Help: "Public note cache lookups by result (hit, miss, deleted, error)",
		},
		[]string{"result"},
	)
)
