package courier

// Logger is the sink for every courier service. Dispatcher, ConsentStore,
// RecipientResolver, Broadcaster, EventIngestor, AdminService and PublicService
// each take one through their logger option.
//
//   - Debugf: per-message detail (idempotent replays, duplicate events)
//   - Infof: state changes an operator may look for, rejected provider transitions
//   - Warnf: failures that did not fail the operation (fire-and-forget sends,
//     notifier hooks, one broadcast recipient, an unreachable rate limiter)
//   - Errorf: storage failures returned to the caller
//
// adapters/zaplog backs it with a zap SugaredLogger in courier-server.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Info logs a fixed message, for lifecycle lines in courier-server.
	Info(message string)
}

// NoopLogger discards everything. Tests pass it where log output is noise.
type NoopLogger struct{}

// Debugf implements Logger.Debugf as a no-op.
func (l *NoopLogger) Debugf(_ string, _ ...interface{}) {}

// Infof implements Logger.Infof as a no-op.
func (l *NoopLogger) Infof(_ string, _ ...interface{}) {}

// Warnf implements Logger.Warnf as a no-op.
func (l *NoopLogger) Warnf(_ string, _ ...interface{}) {}

// Errorf implements Logger.Errorf as a no-op.
func (l *NoopLogger) Errorf(_ string, _ ...interface{}) {}

// Info implements Logger.Info as a no-op.
func (l *NoopLogger) Info(_ string) {}
