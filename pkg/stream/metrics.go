package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ChunksWritten counts chunks appended across all run channels.
var ChunksWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "draftflow_stream_chunks_written_total",
	Help: "Number of chunks written to run stream channels.",
})
