package logging

import (
	"context"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Trace(message string, args ...any) { l.record("trace", message, args...) }
func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }
func (l *captureLogger) Fatal(message string, args ...any) { l.record("fatal", message, args...) }
func (l *captureLogger) WithContext(context.Context) glog.Logger {
	return l
}

type loggerProviderSpy struct {
	byName map[string]glog.Logger
	names  []string
}

func (p *loggerProviderSpy) GetLogger(name string) glog.Logger {
	p.names = append(p.names, name)
	return p.byName[name]
}

func TestResolvePrefersProvider(t *testing.T) {
	scoped := &captureLogger{}
	provider := &loggerProviderSpy{byName: map[string]glog.Logger{"authsync.engine": scoped}}
	explicit := &captureLogger{}

	gotProvider, got := Resolve("authsync.engine", provider, explicit)
	require.Same(t, scoped, got)
	assert.Equal(t, provider, gotProvider)
	assert.Equal(t, []string{"authsync.engine"}, provider.names)
}

func TestResolveFallsBackToExplicitLogger(t *testing.T) {
	provider := &loggerProviderSpy{byName: map[string]glog.Logger{}}
	explicit := &captureLogger{}

	gotProvider, got := Resolve("notification.feed", provider, explicit)
	require.Same(t, explicit, got)
	require.NotNil(t, gotProvider)

	got.Info("hello", "k", "v")
	require.Len(t, explicit.calls, 1)
	assert.Equal(t, "info", explicit.calls[0].level)
	assert.Equal(t, []any{"k", "v"}, explicit.calls[0].args)
}

func TestResolveDefaultLogger(t *testing.T) {
	_, got := Resolve("notification.feed", nil, nil)
	require.NotNil(t, got)

	def, ok := got.(*defLogger)
	require.True(t, ok)
	assert.Equal(t, "NOTIFICATION.FEED", def.scope)
	assert.Same(t, def, def.WithContext(context.Background()))
}
