// Package logging resolves scoped glog loggers for every package in the module.
package logging

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Resolve picks the logger for name. A provider wins over an explicit logger;
// when neither yields a logger a default one scoped to name is used.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger == nil {
		logger = Default(name)
	}

	return glog.ProviderFromLogger(logger), logger
}

// Default returns a logger that prints "[LVL] SCOPE msg k=v" lines to stdout.
func Default(name string) glog.Logger {
	scope := strings.ToUpper(name)
	if scope == "" {
		scope = "AUTHSYNC"
	}
	return &defLogger{scope: scope}
}

type defLogger struct {
	scope string
}

func (d *defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(d.scope)
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	fmt.Println(b.String())
}

func (d *defLogger) Trace(msg string, args ...any) { d.print("TRC", msg, args...) }
func (d *defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d *defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d *defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d *defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d *defLogger) Fatal(msg string, args ...any) { d.print("FTL", msg, args...) }

func (d *defLogger) WithContext(context.Context) glog.Logger {
	return d
}
