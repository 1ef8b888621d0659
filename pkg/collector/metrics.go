package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	partitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_partitions_total",
		Help: "Partitions reaching complete, failed or paused",
	}, []string{"status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_runs_total",
		Help: "Collection runs by final status",
	}, []string{"status"})
)
