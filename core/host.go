package core

import (
	"context"

	"pkt.systems/cursortrail/schema"
)

// SurfaceHost is the editor capability surface the pool drives. Calls may
// fail but must not block indefinitely.
type SurfaceHost interface {
	// CreateHiddenSurface opens a new hidden render window with its own buffer.
	CreateHiddenSurface(ctx context.Context) (schema.WindowBufferHandle, error)
	// ReconfigureSurface moves the window to placement and shows or hides it.
	ReconfigureSurface(ctx context.Context, handle schema.WindowBufferHandle, placement schema.WindowPlacement, visible bool) error
	// CloseSurface closes the window and releases its buffer.
	CloseSurface(ctx context.Context, handle schema.WindowBufferHandle) error
	SurfaceIsValid(ctx context.Context, handle schema.WindowBufferHandle) bool
	BufferIsValid(ctx context.Context, handle schema.WindowBufferHandle) bool
	// ClearDrawnMarks removes any highlight marks drawn into the buffer.
	ClearDrawnMarks(ctx context.Context, handle schema.WindowBufferHandle)
	// OrphanSurfaces lists host windows carrying the content marker,
	// whether tracked or not.
	OrphanSurfaces(ctx context.Context) ([]schema.WindowBufferHandle, error)
}
