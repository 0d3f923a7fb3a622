// Package logging provides structured logging for the KNXnet/IP gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and its tools.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error), adjustable at runtime
//   - Rotated file output via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "/var/log/knxipd.log"
//	    max_size: 50     # MB before rotation
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("gateway connected", "channel", 7)
//
// Never log the MQTT password or the InfluxDB token.
package logging
