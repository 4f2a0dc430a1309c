package schema

// TabID identifies a host tab page.
type TabID int

// WindowID identifies a host window.
type WindowID int

// BufferID identifies a host buffer.
type BufferID int

// FrameEpoch tags one animation frame within a tab. It wraps on overflow.
type FrameEpoch uint64

// Next returns the epoch that follows e.
func (e FrameEpoch) Next() FrameEpoch {
	return e + 1
}

// WindowPlacement describes where a render window should appear on screen.
type WindowPlacement struct {
	Row    int
	Col    int
	Width  int
	ZIndex int
}

// WindowBufferHandle pairs a host window with its backing buffer. The pool
// never interprets the identifiers beyond passing them back to the host.
type WindowBufferHandle struct {
	WindowID WindowID
	BufferID BufferID
}
