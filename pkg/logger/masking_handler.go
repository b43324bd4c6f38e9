package logger

import (
	"context"
	"log/slog"
	"strings"
)

const mask = "***"

type maskRule int

const (
	maskAll maskRule = iota + 1
	// maskKeepTail leaves the last few characters visible so support can
	// match a payout to the account without seeing the whole of it.
	maskKeepTail
)

const visibleTail = 4

// maskedKeys is matched case-insensitively against attribute keys at any
// depth of grouping.
var maskedKeys = map[string]maskRule{
	"password":        maskAll,
	"token":           maskAll,
	"bot_token":       maskAll,
	"secret":          maskAll,
	"api_key":         maskAll,
	"authorization":   maskAll,
	"dsn":             maskAll,
	"payment_details": maskKeepTail,
}

// MaskingHandler redacts secrets and payout details before records reach
// the wrapped handler and adds the context's correlation ID.
type MaskingHandler struct {
	next slog.Handler
}

// NewMaskingHandler wraps next.
func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &MaskingHandler{next: h.next.WithAttrs(redactAll(attrs))}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, 0, record.NumAttrs()+1)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	if id := CorrelationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}

	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	out.AddAttrs(redactAll(attrs)...)
	return h.next.Handle(ctx, out)
}

func redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redact(a)
	}
	return out
}

func redact(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch maskedKeys[strings.ToLower(a.Key)] {
	case maskAll:
		return slog.String(a.Key, mask)
	case maskKeepTail:
		return slog.String(a.Key, keepTail(a.Value.String()))
	}

	if a.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redactAll(a.Value.Group())...)}
	}
	return a
}

// keepTail masks all but the last characters of s. Short values are
// masked entirely.
func keepTail(s string) string {
	r := []rune(s)
	if len(r) <= 2*visibleTail {
		return mask
	}
	return mask + string(r[len(r)-visibleTail:])
}
