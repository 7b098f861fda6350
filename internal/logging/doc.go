// Package logging provides structured logging for fanout processes.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent context attributes. Both the coordinator and every worker carry
// one [Logger] on their process context object; components derive child
// loggers with the attributes that identify them.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context attributes (component, job, worker instance)
//   - Size-based rotation with optional gzip compression of rotated files
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/fanout", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	agg := logger.WithComponent("aggregator")
//	agg.WithJob(replyAddress).Info("job finalized", "output", name)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"job finalized","component":"aggregator","job":"reply-1b2c","output":"answer-1.txt"}
package logging
