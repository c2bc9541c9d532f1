package mqttclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// printer adapts slog to paho's package-level Logger interface.
type printer struct {
	l     *slog.Logger
	level slog.Level
}

func (p printer) Println(v ...any) {
	p.l.Log(context.Background(), p.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (p printer) Printf(format string, v ...any) {
	p.l.Log(context.Background(), p.level, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// SetLogger routes paho's internal logging to l. Paho's loggers are
// process-wide; debug output is only wired when debug is true.
func SetLogger(l *slog.Logger, debug bool) {
	if l == nil {
		l = slog.Default()
	}
	l = l.With("component", "paho")

	mqtt.ERROR = printer{l: l, level: slog.LevelError}
	mqtt.CRITICAL = printer{l: l, level: slog.LevelError}
	mqtt.WARN = printer{l: l, level: slog.LevelWarn}
	if debug {
		mqtt.DEBUG = printer{l: l, level: slog.LevelDebug}
	}
}
