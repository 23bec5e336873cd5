// Package observability builds the zap logger and the Prometheus metrics
// registry shared by every tenantguard component.
//
// Logs go to a standard stream or to a rotating file. Metrics are kept in a private
// registry and exposed through Handler on the metrics path.
package observability
