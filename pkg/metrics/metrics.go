package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "provenance", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "provenance", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// BlobWrites counts ContentStore.Put outcomes: stored, deduplicated, failed.
	BlobWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "provenance", Name: "blob_writes_total", Help: "Content store writes by result."},
		[]string{"result"},
	)
	LedgerCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "provenance", Name: "ledger_commits_total", Help: "Ledger append attempts by result."},
		[]string{"result"},
	)
	LedgerCommitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "provenance", Name: "ledger_commit_seconds", Help: "Latency of ledger commits including retries.", Buckets: prometheus.DefBuckets},
	)
	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "provenance", Name: "documents_ingested_total", Help: "Documents successfully ingested."},
	)
	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "provenance", Name: "status_transitions_total", Help: "Status change requests by target status and result."},
		[]string{"to", "result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(BlobWrites)
	reg.MustRegister(LedgerCommits)
	reg.MustRegister(LedgerCommitSeconds)
	reg.MustRegister(DocumentsIngested)
	reg.MustRegister(StatusTransitions)
}
