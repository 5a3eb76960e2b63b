// Package events carries the fire-and-forget notifications the engine
// emits when guest code writes artifacts.
package events

import (
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/run"
)

// Notifier receives one notification per created artifact. Implementations
// must never block the caller; failures are the implementation's problem.
type Notifier interface {
	ArtifactWritten(sessionID string, meta run.FileMeta)
}

// LogNotifier is the default Notifier: it records the event in the
// application log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a Notifier backed by the application logger.
func NewLogNotifier(logger *zap.Logger) Notifier {
	return &LogNotifier{logger: logger}
}

// ArtifactWritten logs the artifact event.
func (n *LogNotifier) ArtifactWritten(sessionID string, meta run.FileMeta) {
	n.logger.Info("artifact written",
		zap.String("session_id", sessionID),
		zap.String("path", meta.Path),
		zap.Int64("size_bytes", meta.SizeBytes),
		zap.String("mime_type", meta.MimeType))
}
