package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// shortIDLength is how many characters of a file id the console subject shows.
const shortIDLength = 8

type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	line := h.render(record)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(line)
	return err
}

// render produces "<ts> <LEVEL> <component>: [file 1a2b3c4d/software] msg k=v".
func (h *prettyHandler) render(record slog.Record) []byte {
	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	head, kvs := extractHeader(kvs)

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var buf bytes.Buffer
	buf.Grow(128 + len(kvs)*24)
	buf.WriteString(ts.UTC().Format(time.RFC3339))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	buf.WriteByte(' ')
	if head.component != "" {
		buf.WriteString(head.component + ": ")
	}
	if subject := formatSubject(head.fileID, head.attempt); subject != "" {
		buf.WriteString("[" + subject + "] ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf.WriteString(msg)
	if src := record.Source(); h.addSource && src != nil {
		buf.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
	}
	for _, kv := range kvs {
		if kv.key != "" {
			buf.WriteString(" " + kv.key + "=" + formatValue(kv.value))
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

type header struct {
	component string
	fileID    string
	attempt   string
}

// extractHeader pulls the first component, file_id and attempt values out of
// kvs; they render in the line prefix instead of as key=value pairs.
func extractHeader(kvs []kv) (header, []kv) {
	var head header
	rest := kvs[:0]
	for _, kv := range kvs {
		var slot *string
		switch kv.key {
		case FieldComponent:
			slot = &head.component
		case FieldFileID:
			slot = &head.fileID
		case FieldAttempt:
			slot = &head.attempt
		default:
			rest = append(rest, kv)
			continue
		}
		if *slot == "" {
			*slot = plainValue(kv.value)
		}
	}
	return head, rest
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	return &prettyHandler{
		mu:        h.mu,
		writer:    h.writer,
		level:     h.level,
		addSource: h.addSource,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		groups:    append([]string(nil), h.groups...),
	}
}

// formatSubject renders "file 1a2b3c4d/hardware" style subjects.
func formatSubject(fileID, attempt string) string {
	fileID = strings.TrimSpace(fileID)
	attempt = strings.TrimSpace(attempt)
	if len(fileID) > shortIDLength {
		fileID = fileID[:shortIDLength]
	}
	switch {
	case fileID != "" && attempt != "":
		return "file " + fileID + "/" + attempt
	case fileID != "":
		return "file " + fileID
	default:
		return attempt
	}
}

type kv struct {
	key   string
	value slog.Value
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
