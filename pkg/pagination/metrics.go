package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_pages_fetched_total",
		Help: "Pages fetched successfully",
	})

	recordsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_records_emitted_total",
		Help: "Records handed to the sink",
	})

	duplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collector_duplicates_skipped_total",
		Help: "Entities dropped because their id was already emitted for the partition",
	})
)
