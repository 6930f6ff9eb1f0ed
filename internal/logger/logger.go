package logger

import "go.uber.org/zap"

// Log is a no-op until Init runs, so library code can log unconditionally.
var Log = zap.NewNop()

func Init() {
	Log = zap.Must(zap.NewProduction())
}

// InitDevelopment is used by tests and local runs.
func InitDevelopment() {
	Log = zap.Must(zap.NewDevelopment())
}

func Sugar() *zap.SugaredLogger {
	if Log == nil {
		Init()
	}
	return Log.Sugar()
}
