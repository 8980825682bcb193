// Package logger provides the structured logging interface used across attachdl.
//
// It wraps zerolog behind a small interface so components can be handed a
// NewNopLogger or a TestLogger in tests:
//
//	log, err := logger.New(&config.LoggingConfig{Level: "info", File: "attachdl.log"})
//	log = log.WithField("run_id", runID)
//	log.InfoWithFields("batch completed", map[string]interface{}{
//		"sequence": 3,
//		"size":     200,
//	})
//
// Console output is colored and goes to stderr. When a file is configured every
// entry is also appended to it as a JSON line.
package logger
