/*
Package metrics provides Prometheus metrics collection and exposition for
a resource process.

Metrics are declared and registered at package init, then exposed via
/metrics for scraping:

	┌──────────── Prometheus Registry ────────────┐
	│ MustRegister at package init                │
	└──────────────────┬───────────────────────────┘
	                   │
	  ┌────────────────┼────────────────────┐
	  ▼                ▼                    ▼
	Queues          Pipeline            Synchronizer/Replay
	(depth)      (commit latency,       (cycle duration,
	             dead-lettered)          replay lag, failures)

Collector periodically samples the gauges that can only be read back
from storage — queue depth, replay lag — rather than updated inline at
the call site the way counters and histograms are; it is started
alongside a pkg/resource.Context and stopped with it.

health.go carries a component health registry: RegisterComponent/
UpdateComponent track named components, GetHealth/
GetReadiness summarize them, and HealthHandler/ReadyHandler/
LivenessHandler expose /health, /ready, /live. The three components
cmd/resourced registers as critical are "store", "pipeline", and
"synchronizer".
*/
package metrics
