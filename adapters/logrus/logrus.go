// Package logrus adapts a logrus logger to the glog interfaces used across
// the module.
package logrus

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goliatone/go-logger/glog"
	"github.com/sirupsen/logrus"
)

// New creates a configured logrus logger. Development gets text output at
// debug level, everything else JSON at the requested level.
func New(appName, env, level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)
	if env == "development" {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			logger.SetLevel(lvl)
		}
	}

	logger.WithFields(logrus.Fields{"app": appName, "env": env}).Debug("logger initialized")
	return logger
}

// Provider implements glog.LoggerProvider.
type Provider struct {
	entry *logrus.Entry
}

var _ glog.LoggerProvider = (*Provider)(nil)

// NewProvider wraps logger.
func NewProvider(logger *logrus.Logger) *Provider {
	return &Provider{entry: logrus.NewEntry(logger)}
}

// GetLogger returns a logger tagged with name.
func (p *Provider) GetLogger(name string) glog.Logger {
	return &Logger{entry: p.entry.WithField("logger", name)}
}

// Logger implements glog.Logger on a logrus entry.
type Logger struct {
	entry *logrus.Entry
}

var _ glog.Logger = (*Logger)(nil)

// Wrap adapts a logrus entry.
func Wrap(entry *logrus.Entry) *Logger {
	return &Logger{entry: entry}
}

func (l *Logger) Trace(msg string, args ...any) { l.log(logrus.TraceLevel, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.log(logrus.DebugLevel, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(logrus.InfoLevel, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(logrus.WarnLevel, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(logrus.ErrorLevel, msg, args) }

// Fatal logs at fatal level without exiting the process.
func (l *Logger) Fatal(msg string, args ...any) { l.log(logrus.FatalLevel, msg, args) }

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	return &Logger{entry: l.entry.WithContext(ctx)}
}

func (l *Logger) log(level logrus.Level, msg string, args []any) {
	if !l.entry.Logger.IsLevelEnabled(level) {
		return
	}
	l.entry.WithFields(fields(args)).Log(level, msg)
}

func fields(args []any) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		value := args[i+1]
		if err, ok := value.(error); ok && err != nil {
			value = err.Error()
		}
		out[key] = value
	}
	if len(args)%2 == 1 {
		out["!BADKEY"] = args[len(args)-1]
	}
	return out
}
