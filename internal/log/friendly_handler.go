package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
)

// NewFriendlyErrorHandler returns a slog.Handler that prints error records as a
// short "Error: ..." block for the console, with a suggestion line when the
// record carries one.
func NewFriendlyErrorHandler(w io.Writer) slog.Handler {
	return &friendlyErrorHandler{w: w, enabled: true}
}

type friendlyErrorHandler struct {
	w       io.Writer
	attrs   []slog.Attr
	groups  []string
	enabled bool
}

func (h *friendlyErrorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.enabled && level >= slog.LevelError
}

func (h *friendlyErrorHandler) Handle(_ context.Context, record slog.Record) error {
	summary := strings.TrimSpace(record.Message)
	suggestion := ""
	var details []string

	visit := func(key string, val slog.Value) {
		text := formatAttrValue(val.Resolve())
		if text == "" {
			return
		}
		switch key {
		case "error":
			if summary == "" {
				summary = text
			}
		case "suggestion":
			suggestion = text
		default:
			details = append(details, renderDetail(h.scopedKey(key), text))
		}
	}
	for _, attr := range h.attrs {
		visit(attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		visit(attr.Key, attr.Value)
		return true
	})

	if summary == "" {
		summary = "an unknown error occurred"
	}
	sort.Strings(details)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", summary)
	if suggestion != "" {
		fmt.Fprintf(&sb, "  suggestion: %s\n", suggestion)
	}
	for _, d := range details {
		sb.WriteString(d)
	}

	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *friendlyErrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *friendlyErrorHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *friendlyErrorHandler) clone() *friendlyErrorHandler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	clone.groups = append([]string(nil), h.groups...)
	return &clone
}

func (h *friendlyErrorHandler) scopedKey(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(append(append([]string{}, h.groups...), key), ".")
}

func formatAttrValue(val slog.Value) string {
	switch val.Kind() {
	case slog.KindGroup:
		members := val.Group()
		parts := make([]string, 0, len(members))
		for _, attr := range members {
			parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, formatAttrValue(attr.Value.Resolve())))
		}
		return strings.Join(parts, ", ")
	case slog.KindAny:
		raw := val.Any()
		if err, ok := raw.(error); ok {
			return err.Error()
		}
		return fmt.Sprint(raw)
	default:
		return val.String()
	}
}

// renderDetail indents one attribute as a detail line, folding multi-line
// values under the key.
func renderDetail(key, value string) string {
	value = strings.TrimSpace(value)
	if !strings.Contains(value, "\n") {
		return fmt.Sprintf("  %s: %s\n", key, value)
	}
	lines := strings.Split(value, "\n")
	var sb strings.Builder
	fmt.Fprintf(&sb, "  %s: %s\n", key, strings.TrimSpace(lines[0]))
	for _, line := range lines[1:] {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			fmt.Fprintf(&sb, "    %s\n", trimmed)
		}
	}
	return sb.String()
}
