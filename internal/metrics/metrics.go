// Package metrics exposes Prometheus counters for the scraping and checking
// pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesScraped tracks candidates reported by source tasks, before
	// deduplication.
	CandidatesScraped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxygather_candidates_scraped_total",
		Help: "The total number of proxy candidates reported by source tasks.",
	})
	// CandidatesChecked tracks completed validation calls, usable or not.
	CandidatesChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxygather_candidates_checked_total",
		Help: "The total number of completed proxy validation calls.",
	})
	// CandidatesWorking tracks validation calls that returned a usable result.
	CandidatesWorking = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxygather_candidates_working_total",
		Help: "The total number of candidates that validated as usable.",
	})
	// InterimSaves tracks batch persistence events during checking.
	InterimSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxygather_interim_saves_total",
		Help: "The total number of interim bucket writes performed mid-run.",
	})
	// SourceTaskFailures tracks producer tasks that ended in an error.
	SourceTaskFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxygather_source_task_failures_total",
		Help: "The total number of source tasks that failed.",
	})
)
