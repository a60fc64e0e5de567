package authsync

import (
	"github.com/goliatone/go-auth-sync/internal/logging"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging contract shared by every component in this module.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// ResolveLogger picks the logger for name. A provider wins over an explicit
// logger; when neither yields a logger the default one is used.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	return logging.Resolve(name, provider, logger)
}
