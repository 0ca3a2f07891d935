// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("route", "login").Info("Login succeeded")
//
// Request scoped loggers pick up the request id, user id and trace ids:
//
//	observability.FromContext(r.Context()).Warn("Rate limit exceeded")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordAuthAttempt("login", observability.ResultSuccess)
//
// All Record helpers accept a nil *Metrics so callers can leave metrics unset.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, server)
//	sm.Register("database", func(context.Context) error { return db.Close() })
//	err := sm.Shutdown(context.Background())
package observability
