package chronicle

import (
	"go.uber.org/zap"
)

// Logger wraps *zap.SugaredLogger, mirroring the teacher's choice of
// zap as the structured logging library (server.go's serverLogger /
// s.logger field).
type Logger = zap.SugaredLogger

// NewLogger builds a production zap logger at the given level
// ("debug", "info", "warn", "error"), falling back to info on an
// unrecognized level, and returns its sugared form.
func NewLogger(level string) *Logger {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// logFields prepends the proposer's identifying context (history,
// term, state) to an arbitrary list of key/value pairs, the same shape
// as the teacher's package-level logFields(server, ...) helper in
// server.go.
func (p *Proposer) logFields(kvs ...interface{}) []interface{} {
	fields := []interface{}{
		"self", p.localID,
		"history_id", p.history,
		"term_number", p.term.Number,
		"term_tiebreaker", p.term.Tiebreaker,
		"state", p.state.String(),
	}
	return append(fields, kvs...)
}
