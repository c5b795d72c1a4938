// Package observability provides request lifecycle instrumentation and
// health reporting for the webapp service.
//
// # Metrics
//
// A Registry holds named counters, histograms and gauges and renders them
// in the Prometheus text format:
//
//	registry := observability.NewRegistry("")
//	registry.MustRegister(observability.MetricDefinition{
//	    Name:       "jobs_total",
//	    Kind:       observability.KindCounter,
//	    Help:       "Jobs processed",
//	    LabelNames: []string{"queue"},
//	})
//	_ = registry.Observe("jobs_total", observability.Labels{"queue": "default"}, 1)
//
// # Logging
//
// NewLogger builds a zap logger that fans out to the console, a combined
// file and an error-only file. RequestLogger writes one record per request.
//
// # Request lifecycle
//
// LifecycleTracker is a gin middleware that records, for every request,
// one sample of http_request_duration_seconds, one increment of
// http_requests_total and a matching increment and decrement of
// active_connections:
//
//	tracker, err := observability.NewLifecycleTracker(registry, requests, logger, nil)
//	if err != nil {
//	    return err
//	}
//	engine.Use(tracker.Middleware())
//
// # Health
//
// HealthReporter serves liveness, readiness and process health. Readiness
// is answered from statuses cached by the refresh loop:
//
//	health := observability.NewHealthReporter(env, version, 15*time.Second, 2*time.Second, logger)
//	health.RegisterCheck("cache", func(ctx context.Context) error {
//	    return client.Ping(ctx).Err()
//	})
//	health.Refresh(ctx)
//	go health.Run(ctx)
package observability
