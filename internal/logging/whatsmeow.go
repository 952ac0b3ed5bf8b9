package logging

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// WhatsmeowLogger adapts l to whatsmeow's logger interface. Records carry
// the module name; Sub appends to it the way whatsmeow's stdout logger does.
func WhatsmeowLogger(l *slog.Logger, module string) waLog.Logger {
	return &waLogger{logger: l, module: module}
}

type waLogger struct {
	logger *slog.Logger
	module string
}

func (w *waLogger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !w.logger.Enabled(ctx, level) {
		return
	}
	w.logger.Log(ctx, level, fmt.Sprintf(msg, args...), "module", w.module)
}

func (w *waLogger) Debugf(msg string, args ...any) { w.log(slog.LevelDebug, msg, args) }
func (w *waLogger) Infof(msg string, args ...any)  { w.log(slog.LevelInfo, msg, args) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.log(slog.LevelWarn, msg, args) }
func (w *waLogger) Errorf(msg string, args ...any) { w.log(slog.LevelError, msg, args) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{logger: w.logger, module: w.module + "/" + module}
}
