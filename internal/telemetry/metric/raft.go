package metric

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics/compat"
	gmprom "github.com/hashicorp/go-metrics/compat/prometheus"
)

// EnableRaftMetrics routes go-metrics output (raft's replication, FSM and
// snapshot timings) into this registry. It installs the process-global
// go-metrics sink, so call it once per process.
func (r *Registry) EnableRaftMetrics(serviceName string) error {
	sink, err := gmprom.NewPrometheusSinkFrom(gmprom.PrometheusOpts{
		Expiration: time.Minute,
		Registerer: r.registry,
		Name:       "constellation_raft_sink",
	})
	if err != nil {
		return err
	}

	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	_, err = gometrics.NewGlobal(cfg, sink)
	return err
}
