package nvimhost

import (
	"context"
	"fmt"

	"github.com/neovim/go-client/nvim"

	"pkt.systems/cursortrail/core"
	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/internal/version"
	"pkt.systems/cursortrail/schema"
)

// RPC method names, as called from the editor side.
const (
	MethodMove      = "cursortrail_move"
	MethodTabClosed = "cursortrail_tab_closed"
	MethodWinClosed = "cursortrail_win_closed"
	MethodPurge     = "cursortrail_purge"
	MethodStats     = "cursortrail_stats"
)

// Controller receives editor events.
type Controller interface {
	CursorMoved(ctx context.Context, tab schema.TabID, row, col int) error
	RetainTabs(ctx context.Context, live []schema.TabID) error
	WindowClosed(ctx context.Context, window schema.WindowID) error
	Purge(ctx context.Context) (core.PurgeReport, error)
	Stats(ctx context.Context) (schema.PoolSnapshot, error)
}

// handlers adapts Controller to msgpack-friendly RPC signatures.
type handlers struct {
	ctx  context.Context
	ctrl Controller
}

func (h handlers) move(tab, row, col int) {
	if err := h.ctrl.CursorMoved(h.ctx, schema.TabID(tab), row, col); err != nil {
		logx.Ctx(h.ctx).Debug("nvimhost move dropped", "tab", tab, "err", err)
	}
}

func (h handlers) tabClosed(live []int) {
	tabs := make([]schema.TabID, len(live))
	for i, tab := range live {
		tabs[i] = schema.TabID(tab)
	}
	if err := h.ctrl.RetainTabs(h.ctx, tabs); err != nil {
		logx.Ctx(h.ctx).Debug("nvimhost tab closed dropped", "err", err)
	}
}

func (h handlers) winClosed(win int) {
	if err := h.ctrl.WindowClosed(h.ctx, schema.WindowID(win)); err != nil {
		logx.Ctx(h.ctx).Debug("nvimhost win closed dropped", "win", win, "err", err)
	}
}

func (h handlers) purge() (map[string]int, error) {
	report, err := h.ctrl.Purge(h.ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"closed":   report.Closed,
		"orphans":  report.Orphans,
		"failures": report.Failures,
	}, nil
}

func (h handlers) stats() (map[string]int, error) {
	snap, err := h.ctrl.Stats(h.ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"tabs":              snap.Tabs,
		"total":             snap.Total,
		"available":         snap.Available,
		"in_use":            snap.InUse,
		"cached_budget":     snap.CachedBudget,
		"last_frame_demand": snap.LastFrameDemand,
	}, nil
}

// Register installs the RPC handlers on v. It must run before v.Serve.
func Register(ctx context.Context, v *nvim.Nvim, ctrl Controller) error {
	h := handlers{ctx: ctx, ctrl: ctrl}
	for method, fn := range map[string]any{
		MethodMove:      h.move,
		MethodTabClosed: h.tabClosed,
		MethodWinClosed: h.winClosed,
		MethodPurge:     h.purge,
		MethodStats:     h.stats,
	} {
		if err := v.RegisterHandler(method, fn); err != nil {
			return fmt.Errorf("nvimhost: register %s: %w", method, err)
		}
	}
	return nil
}

const attachLua = `
local chan, segments = ...
local group = vim.api.nvim_create_augroup('cursortrail', { clear = true })
for i = 1, segments do
  vim.api.nvim_set_hl(0, 'CursorTrail' .. i, { link = 'Cursor', default = true })
end
local function move()
  local pos = vim.fn.screenpos(0, vim.fn.line('.'), vim.fn.col('.'))
  if pos.row == 0 then
    return
  end
  vim.rpcnotify(chan, 'cursortrail_move', vim.api.nvim_get_current_tabpage(), pos.row - 1, pos.col - 1)
end
vim.api.nvim_create_autocmd({ 'CursorMoved', 'CursorMovedI', 'WinScrolled' }, { group = group, callback = move })
vim.api.nvim_create_autocmd('TabClosed', {
  group = group,
  callback = function()
    vim.rpcnotify(chan, 'cursortrail_tab_closed', vim.api.nvim_list_tabpages())
  end,
})
vim.api.nvim_create_autocmd('WinClosed', {
  group = group,
  callback = function(ev)
    vim.rpcnotify(chan, 'cursortrail_win_closed', tonumber(ev.match))
  end,
})
vim.api.nvim_create_autocmd('VimLeavePre', {
  group = group,
  callback = function()
    pcall(vim.rpcrequest, chan, 'cursortrail_purge')
  end,
})
`

// Attach defines the trail highlight groups and installs the autocommands
// that forward editor events over this channel.
func Attach(v *nvim.Nvim, segments int) error {
	if err := v.ExecLua(attachLua, nil, v.ChannelID(), max(segments, 1)); err != nil {
		return fmt.Errorf("nvimhost: attach: %w", err)
	}
	return nil
}

// Announce publishes the client name and version on this channel so it
// shows up in nvim_list_chans.
func Announce(v *nvim.Nvim, ver string) error {
	cv := nvim.ClientVersion{}
	if parsed, ok := version.Parse(ver); ok {
		cv.Major, cv.Minor, cv.Patch = parsed.Major, parsed.Minor, parsed.Patch
		cv.Prerelease = parsed.Prerelease
	}
	attrs := nvim.ClientAttributes{"website": "https://" + version.Module()}
	if err := v.SetClientInfo(Namespace, cv, nvim.RemoteClientType, nil, attrs); err != nil {
		return fmt.Errorf("nvimhost: set client info: %w", err)
	}
	return nil
}
