// Package telemetry provides setup for reporting logs and stats from the
// navigation session.
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// SetupTelemetry sets up telemetry so logs and stats can be reported.
func SetupTelemetry(reportingInterval time.Duration) (perf.Exporter, error) {
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: reportingInterval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}
