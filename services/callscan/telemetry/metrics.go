// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics dumps every metric registered with the default registry to
// path in the Prometheus text format, for the node_exporter textfile
// collector. The file is replaced atomically.
func WriteMetrics(path string) error {
	return WriteMetricsFrom(prometheus.DefaultGatherer, path)
}

// WriteMetricsFrom is WriteMetrics for an explicit gatherer.
func WriteMetricsFrom(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
