package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

func forced(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}

var (
	timeColor   = forced(color.Faint)
	prefixColor = forced(color.FgCyan)
	keyColor    = forced(color.FgBlue)
	numberColor = forced(color.FgMagenta)
	goodColor   = forced(color.FgGreen)
	badColor    = forced(color.FgRed)

	levelColors = map[slog.Level]*color.Color{
		slog.LevelDebug: forced(color.FgHiBlack),
		slog.LevelInfo:  forced(color.FgGreen),
		slog.LevelWarn:  forced(color.FgYellow),
		slog.LevelError: forced(color.FgRed, color.Bold),
	}
)

// prefixKeys are lifted out of the attributes into a [component/backend/scenario] prefix
// so interleaved output from parallel scenarios stays readable
var prefixKeys = []string{"component", "backend", "scenario"}

// ColorHandler is a human oriented slog.Handler for terminals
type ColorHandler struct {
	level    slog.Leveler
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	group    string
	useColor bool
}

// NewColorHandler writes to w. With auto set, colour is only used when w is a terminal.
func NewColorHandler(w io.Writer, level slog.Leveler, auto bool) *ColorHandler {
	useColor := true
	if auto {
		f, ok := w.(*os.File)
		useColor = ok && isatty.IsTerminal(f.Fd())
	}
	return &ColorHandler{level: level, w: w, mu: &sync.Mutex{}, useColor: useColor}
}

// SetColorEnabled overrides terminal detection
func (h *ColorHandler) SetColorEnabled(enabled bool) {
	h.useColor = enabled
}

func (h *ColorHandler) paint(c *color.Color, s string) string {
	if !h.useColor || c == nil {
		return s
	}
	return c.Sprint(s)
}

func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.level != nil {
		minLevel = h.level.Level()
	}
	return level >= minLevel
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString(h.paint(timeColor, r.Time.Format("15:04:05.000")))
		b.WriteByte(' ')
	}
	b.WriteString(h.paint(levelColors[r.Level], fmt.Sprintf("%-5s", r.Level.String())))
	b.WriteByte(' ')

	attrs := append([]slog.Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	var prefix []string
	for _, key := range prefixKeys {
		for _, a := range attrs {
			if a.Key == key {
				prefix = append(prefix, a.Value.String())
			}
		}
	}
	if len(prefix) > 0 {
		b.WriteString(h.paint(prefixColor, "["+strings.Join(prefix, "/")+"]"))
		b.WriteByte(' ')
	}
	b.WriteString(r.Message)

	for _, a := range attrs {
		if isPrefixKey(a.Key) {
			continue
		}
		a = globalMasker.MaskAttr(a)
		b.WriteByte(' ')
		b.WriteString(h.paint(keyColor, a.Key))
		b.WriteByte('=')
		b.WriteString(h.formatValue(a))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func isPrefixKey(k string) bool {
	for _, p := range prefixKeys {
		if k == p {
			return true
		}
	}
	return false
}

func (h *ColorHandler) formatValue(a slog.Attr) string {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64:
		return h.paint(numberColor, v.String())
	case slog.KindDuration:
		return h.paint(numberColor, v.Duration().Round(time.Microsecond).String())
	case slog.KindBool:
		if v.Bool() {
			return h.paint(goodColor, "true")
		}
		return h.paint(badColor, "false")
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	}

	s := v.String()
	if strings.ContainsAny(s, " \t\n\"=") || s == "" {
		s = strconv.Quote(s)
	}
	switch {
	case a.Key == "error":
		return h.paint(badColor, s)
	case a.Key == "category" && v.String() == "passed":
		return h.paint(goodColor, s)
	case a.Key == "category":
		return h.paint(badColor, s)
	}
	return s
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}
