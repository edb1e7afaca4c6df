package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// plainValue renders v without quoting, for subject fields.
func plainValue(v slog.Value) string {
	return renderValue(v, false)
}

// formatValue renders v for key=value output, quoting when the text would
// otherwise be ambiguous.
func formatValue(v slog.Value) string {
	return renderValue(v, true)
}

func renderValue(v slog.Value, quote bool) string {
	v = v.Resolve()
	var text string
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			text = err.Error()
		} else {
			text = fmt.Sprint(v.Any())
		}
	default:
		text = v.String()
	}
	if quote && (text == "" || strings.ContainsFunc(text, unsafeRune)) {
		return strconv.Quote(text)
	}
	return text
}

func unsafeRune(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
