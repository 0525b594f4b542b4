// Package logging provides structured logging for elmctl.
//
// This package wraps Go's log/slog to write JSON lines tagged with the
// element, batch and operation each entry belongs to, so one checkout batch
// can be followed through its parallel sign-out, retrieval and save phases.
//
// # Basic Usage
//
// Create a logger writing to {dir}/elmctl.log:
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
// An empty dir logs to stderr. [NewWriterLogger] writes to any io.Writer.
//
// # Context Propagation
//
//	batchLogger := logger.WithBatch(batchID).WithOperation("checkout")
//	batchLogger.WithElement(path).Info("element saved", "file", location)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"element saved","batch_id":"...","operation":"checkout","element":"DEV/1/FIN/AP/COBOL/PAYROLL","file":"..."}
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the parent's output, and Close on any of
// them closes the log file once.
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on entries.
//
// # Configuration
//
//	logging:
//	  enabled: true
//	  level: info
//	  dir: /var/log/elmctl
package logging
