/*
Package observability turns engine lifecycle hooks into Prometheus metrics.

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	eng, err := canopy.New(ch, canopy.WithLifecycleHooks(metrics.Hooks()))
*/
package observability
