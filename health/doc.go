// Package health tracks component health and aggregates it into the
// process status served by the /health endpoint.
//
// # Health States
//
//   - healthy: operating normally
//   - degraded: working with reduced function, e.g. the broker is reconnecting
//   - unhealthy: not working, e.g. the broker is down
//
// An aggregate is unhealthy if any component is unhealthy, degraded if any
// is degraded, and healthy otherwise.
//
// # Usage
//
//	monitor := health.NewMonitor(health.WithMetrics(registry.CoreMetrics()))
//	monitor.Register("broker", func() health.Status {
//	    return health.FromBrokerStatus("broker", connector.Status())
//	})
//	status := monitor.Evaluate("sensorstream")
//
// Evaluate runs checks on the caller's goroutine. Last returns what the
// previous evaluation recorded for one component.
//
// # Message sanitization
//
// FromBrokerStatus and FromError strip URLs, paths, IP addresses, ports and
// credential-looking values from error text before it reaches a status
// message.
package health
