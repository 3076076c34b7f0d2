package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

type LogType string

const (
	TypeGrab   LogType = "GRAB"
	TypeSettle LogType = "SETTLE"
	TypeDB     LogType = "DB"
	TypeSystem LogType = "SYS"
	TypeError  LogType = "ERR"
)

type CustomHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	color  bool
	attrs  []slog.Attr
	groups []string
}

// NewHandler returns the console handler. Colors are only emitted when out is
// a terminal-like *os.File.
func NewHandler(out io.Writer, level slog.Leveler) *CustomHandler {
	if out == nil {
		out = os.Stdout
	}
	if level == nil {
		level = slog.LevelInfo
	}
	_, isFile := out.(*os.File)
	return &CustomHandler{
		out:   out,
		mu:    &sync.Mutex{},
		level: level,
		color: isFile,
	}
}

// New builds the process logger for the configured format.
func New(out io.Writer, level slog.Level, format string, addSource bool) *slog.Logger {
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: addSource}))
	}
	return slog.New(NewHandler(out, level))
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	levelColor, levelText := levelStyle(r.Level)

	var attrs []slog.Attr
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	logType := TypeSystem
	message := r.Message
	var b strings.Builder
	for _, attr := range attrs {
		switch attr.Key {
		case "type":
			logType = typeOf(attr.Value.String())
		case "error":
			if r.Level >= slog.LevelError {
				message = fmt.Sprintf("%s: %v", message, attr.Value.Any())
				continue
			}
			fmt.Fprintf(&b, " %s=%v", h.key(attr.Key), attr.Value.Any())
		default:
			fmt.Fprintf(&b, " %s=%v", h.key(attr.Key), attr.Value.Any())
		}
	}

	timestamp := r.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var line string
	if h.color {
		line = fmt.Sprintf("%s[RedPacket] [%s] [%s%s%s] [%s] %s%s%s\n",
			colorWhite, timestamp.Format("15:04:05"),
			levelColor, levelText, colorWhite,
			logType, message, b.String(), colorReset)
	} else {
		line = fmt.Sprintf("[RedPacket] [%s] [%s] [%s] %s%s\n",
			timestamp.Format("15:04:05"), levelText, logType, message, b.String())
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, line)
	return err
}

func (h *CustomHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func levelStyle(level slog.Level) (string, string) {
	switch {
	case level >= slog.LevelError:
		return colorRed, "ERROR"
	case level >= slog.LevelWarn:
		return colorYellow, "WARN"
	case level >= slog.LevelInfo:
		return colorGreen, "INFO"
	default:
		return colorPurple, "DEBUG"
	}
}

func typeOf(v string) LogType {
	switch v {
	case "grab":
		return TypeGrab
	case "settle":
		return TypeSettle
	case "db":
		return TypeDB
	case "error":
		return TypeError
	default:
		return TypeSystem
	}
}
