package logx

import (
	"context"

	"pkt.systems/cursortrail/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	tabKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with the tab id unless the context already carries it.
func WithTab(ctx context.Context, tabID schema.TabID) pslog.Logger {
	log := Ctx(ctx)
	if ctx != nil {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
	}
	return log.With("tab", int(tabID))
}

// WithHandle annotates the logger with window and buffer identifiers.
func WithHandle(log pslog.Logger, handle schema.WindowBufferHandle) pslog.Logger {
	if handle.WindowID != 0 {
		log = log.With("win", int(handle.WindowID))
	}
	if handle.BufferID != 0 {
		log = log.With("buf", int(handle.BufferID))
	}
	return log
}

// WithPlacement annotates the logger with a window placement.
func WithPlacement(log pslog.Logger, placement schema.WindowPlacement) pslog.Logger {
	return log.With("row", placement.Row, "col", placement.Col, "width", placement.Width, "zindex", placement.ZIndex)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithTabLogger attaches the logger and tab marker to the context.
func ContextWithTabLogger(ctx context.Context, log pslog.Logger, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ctx, tabID)
}
