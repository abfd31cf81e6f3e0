package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts workflow runs created.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_runs_started_total",
		Help: "Number of workflow runs created.",
	})

	// RunsCompleted counts workflow runs that reached ClearRun.
	RunsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_runs_completed_total",
		Help: "Number of workflow runs driven to completion.",
	})

	// StepsReplayed counts durable steps answered from the step log.
	StepsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_steps_replayed_total",
		Help: "Number of durable steps replayed from the step log instead of re-executed.",
	})
)
