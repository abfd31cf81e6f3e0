package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModelErrors counts model-capability failures and timeouts.
	ModelErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_model_errors_total",
		Help: "Number of model-capability calls that ended in error.",
	})

	// RouterFallbacks counts routing decisions that fell back to the
	// default agent because the model output was unusable.
	RouterFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "draftflow_router_fallbacks_total",
		Help: "Number of router decisions that used the default transition.",
	})
)
