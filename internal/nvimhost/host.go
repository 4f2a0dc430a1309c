// Package nvimhost implements the render window primitives over a Neovim
// RPC connection.
package nvimhost

import (
	"context"
	"fmt"

	"github.com/neovim/go-client/nvim"

	"pkt.systems/cursortrail/internal/driver"
	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/schema"
)

const (
	// Namespace groups every highlight drawn into trail buffers.
	Namespace = "cursortrail"
	// MarkerVar is set on every render window so orphans can be found.
	MarkerVar = "cursortrail_render"
)

const openHiddenLua = `
local buf = ...
vim.bo[buf].bufhidden = 'wipe'
return vim.api.nvim_open_win(buf, false, {
  relative = 'editor', row = 0, col = 0, width = 1, height = 1,
  focusable = false, style = 'minimal', hide = true, noautocmd = true,
})
`

const reconfigureLua = `
local win, row, col, width, zindex, hide = ...
vim.api.nvim_win_set_config(win, {
  relative = 'editor', row = row, col = col, width = width, height = 1,
  zindex = zindex, hide = hide,
})
`

const notifyLua = `
local msg, level = ...
vim.notify(msg, level)
`

// Host drives floating windows in a Neovim instance.
type Host struct {
	v  *nvim.Nvim
	ns int
}

// New returns a host bound to v. No RPC is issued until Setup, so the
// connection does not need to be served yet.
func New(v *nvim.Nvim) (*Host, error) {
	if v == nil {
		return nil, schema.ErrHostUnavailable
	}
	return &Host{v: v, ns: -1}, nil
}

// Setup creates the highlight namespace, announces the client and installs
// the editor autocommands. The connection must be served and the handlers
// registered before it runs.
func (h *Host) Setup(ctx context.Context, segments int, ver string) error {
	ns, err := h.v.CreateNamespace(Namespace)
	if err != nil {
		return fmt.Errorf("nvimhost: create namespace: %w", err)
	}
	h.ns = ns
	if err := Announce(h.v, ver); err != nil {
		logx.Ctx(ctx).Warn("nvimhost announce failed", "err", err)
	}
	if err := Attach(h.v, segments); err != nil {
		return err
	}
	logx.Ctx(ctx).Info("nvimhost attached", "channel", h.v.ChannelID(), "namespace", ns, "segments", segments)
	return nil
}

// CreateHiddenSurface opens a hidden, unfocusable 1x1 window over a new
// scratch buffer and tags it with MarkerVar.
func (h *Host) CreateHiddenSurface(ctx context.Context) (schema.WindowBufferHandle, error) {
	buf, err := h.v.CreateBuffer(false, true)
	if err != nil {
		return schema.WindowBufferHandle{}, fmt.Errorf("nvimhost: create buffer: %w", err)
	}
	var winID int
	if err := h.v.ExecLua(openHiddenLua, &winID, int(buf)); err != nil {
		h.wipeBuffer(ctx, buf)
		return schema.WindowBufferHandle{}, fmt.Errorf("nvimhost: open window: %w", err)
	}
	win := nvim.Window(winID)
	handle := schema.WindowBufferHandle{WindowID: schema.WindowID(win), BufferID: schema.BufferID(buf)}
	if err := h.v.SetWindowVar(win, MarkerVar, true); err != nil {
		_ = h.CloseSurface(ctx, handle)
		return schema.WindowBufferHandle{}, fmt.Errorf("nvimhost: mark window: %w", err)
	}
	return handle, nil
}

func (h *Host) wipeBuffer(ctx context.Context, buf nvim.Buffer) {
	if err := h.v.DeleteBuffer(buf, map[string]bool{"force": true}); err != nil {
		logx.Ctx(ctx).Debug("nvimhost buffer wipe failed", "buf", int(buf), "err", err)
	}
}

// ReconfigureSurface moves the window to placement and shows or hides it.
func (h *Host) ReconfigureSurface(_ context.Context, handle schema.WindowBufferHandle, placement schema.WindowPlacement, visible bool) error {
	zindex := placement.ZIndex
	if zindex <= 0 {
		zindex = schema.DefaultTrailZIndex
	}
	err := h.v.ExecLua(reconfigureLua, nil,
		int(handle.WindowID),
		max(placement.Row, 0),
		max(placement.Col, 0),
		max(placement.Width, 1),
		zindex,
		!visible,
	)
	if err != nil {
		return fmt.Errorf("nvimhost: configure window %d: %w", handle.WindowID, err)
	}
	return nil
}

// CloseSurface force-closes the window; its buffer is wiped with it.
func (h *Host) CloseSurface(_ context.Context, handle schema.WindowBufferHandle) error {
	if err := h.v.CloseWindow(nvim.Window(handle.WindowID), true); err != nil {
		return fmt.Errorf("nvimhost: close window %d: %w", handle.WindowID, err)
	}
	return nil
}

func (h *Host) SurfaceIsValid(_ context.Context, handle schema.WindowBufferHandle) bool {
	ok, err := h.v.IsWindowValid(nvim.Window(handle.WindowID))
	return err == nil && ok
}

func (h *Host) BufferIsValid(_ context.Context, handle schema.WindowBufferHandle) bool {
	ok, err := h.v.IsBufferValid(nvim.Buffer(handle.BufferID))
	return err == nil && ok
}

// ClearDrawnMarks removes trail highlights from the buffer.
func (h *Host) ClearDrawnMarks(ctx context.Context, handle schema.WindowBufferHandle) {
	if err := h.v.ClearBufferNamespace(nvim.Buffer(handle.BufferID), h.ns, 0, -1); err != nil {
		logx.WithHandle(logx.Ctx(ctx), handle).Debug("nvimhost clear marks failed", "err", err)
	}
}

// OrphanSurfaces lists every window in every tab that carries MarkerVar.
func (h *Host) OrphanSurfaces(ctx context.Context) ([]schema.WindowBufferHandle, error) {
	wins, err := h.v.Windows()
	if err != nil {
		return nil, fmt.Errorf("nvimhost: list windows: %w", err)
	}
	var out []schema.WindowBufferHandle
	for _, win := range wins {
		var marked bool
		if err := h.v.WindowVar(win, MarkerVar, &marked); err != nil || !marked {
			continue
		}
		buf, err := h.v.WindowBuffer(win)
		if err != nil {
			logx.Ctx(ctx).Debug("nvimhost orphan buffer lookup failed", "win", int(win), "err", err)
			continue
		}
		out = append(out, schema.WindowBufferHandle{WindowID: schema.WindowID(win), BufferID: schema.BufferID(buf)})
	}
	return out, nil
}

// DrawPayload replaces the buffer content and highlights it, in one batch.
// A batch that fails because the buffer is gone reports ErrMissingBuffer.
func (h *Host) DrawPayload(ctx context.Context, handle schema.WindowBufferHandle, payload driver.Payload) error {
	buf := nvim.Buffer(handle.BufferID)
	var id int
	b := h.v.NewBatch()
	b.SetBufferLines(buf, 0, -1, false, [][]byte{[]byte(payload.Text)})
	b.ClearBufferNamespace(buf, h.ns, 0, -1)
	b.AddBufferHighlight(buf, h.ns, payload.Highlight, 0, 0, -1, &id)
	if err := b.Execute(); err != nil {
		if !h.BufferIsValid(ctx, handle) {
			return fmt.Errorf("nvimhost: draw buffer %d: %w", handle.BufferID, schema.ErrMissingBuffer)
		}
		return fmt.Errorf("nvimhost: draw buffer %d: %w", handle.BufferID, err)
	}
	return nil
}

// Notify shows msg through vim.notify.
func (h *Host) Notify(_ context.Context, msg string, level driver.NotifyLevel) error {
	return h.v.ExecLua(notifyLua, nil, msg, int(level))
}
