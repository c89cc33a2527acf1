package main

import (
	"fmt"

	"github.com/Evantastic/distribuidos-12020-common/common/connections"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "conncheck"

func newRegistry(results map[connections.Backend]error) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	up := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "backend_up",
		Help:      "Whether the backend passed the connectivity check (1) or not (0)",
	}, []string{"backend"})

	if err := reg.Register(up); err != nil {
		return nil, fmt.Errorf("failed to register metric: %w", err)
	}

	for b, err := range results {
		value := 1.0
		if err != nil {
			value = 0
		}

		up.WithLabelValues(string(b)).Set(value)
	}

	return reg, nil
}

// writeMetrics writes results for the node_exporter textfile collector.
func writeMetrics(path string, results map[connections.Backend]error) error {
	reg, err := newRegistry(results)
	if err != nil {
		return err
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}
