// Package logger wraps a process-wide zap sugared logger behind
// context-aware package functions so call sites stay one-liners.
package logger

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.Mutex
	global *zap.SugaredLogger
)

// Init builds the global logger. mode "prod"/"production" selects the
// production config; anything else gets the development config.
func Init(mode string) error {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	global = l.Sugar()
	return nil
}

func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		l, err := zap.NewDevelopmentConfig().Build(zap.AddCallerSkip(1))
		if err != nil {
			os.Exit(1)
		}
		global = l.Sugar()
	}
	return global
}

func Sync() {
	_ = get().Sync()
}

func Debugf(_ context.Context, format string, args ...interface{}) {
	get().Debugf(format, args...)
}

func Infof(_ context.Context, format string, args ...interface{}) {
	get().Infof(format, args...)
}

func Warnf(_ context.Context, format string, args ...interface{}) {
	get().Warnf(format, args...)
}

func Errorf(_ context.Context, format string, args ...interface{}) {
	get().Errorf(format, args...)
}

func Fatal(_ context.Context, err error) {
	if err == nil {
		return
	}
	get().Fatal(err.Error())
}
