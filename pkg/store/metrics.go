package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PartsPersisted counts part rows written across all chats.
	PartsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_parts_persisted_total",
		Help: "Number of message part rows written to the store.",
	})

	// AssembledReads counts full message assemblies served.
	AssembledReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_assembled_reads_total",
		Help: "Number of assembled chat history reads.",
	})
)
