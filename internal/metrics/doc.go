// Package metrics defines the Prometheus instrumentation, registered via
// promauto at init. All metrics share the vidhost_ prefix.
package metrics
