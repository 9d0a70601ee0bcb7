// Package logging provides structured logging for the shadow agent.
//
// It wraps log/slog so every component logs with the same handler,
// level filter and default fields (service, version).
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("telemetry published", "topic", topic)
//	logger.Error("publish failed", "error", err)
//
// Never log the geocoder API key, broker password or JWT secret.
package logging
