package integration_test

import (
	"os/exec"
	"testing"

	"github.com/neovim/go-client/nvim"
)

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// startNvim embeds a clean headless editor. Hidden floats need 0.10.
func startNvim(t *testing.T) *nvim.Nvim {
	t.Helper()
	requireLong(t)
	if _, err := exec.LookPath("nvim"); err != nil {
		t.Skip("nvim not available")
	}
	v, err := nvim.NewChildProcess(
		nvim.ChildProcessArgs("-u", "NONE", "-n", "-i", "NONE", "--embed", "--headless"),
	)
	if err != nil {
		t.Fatalf("start nvim: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	var supported bool
	if err := v.ExecLua("return vim.fn.has('nvim-0.10') == 1", &supported); err != nil {
		t.Fatalf("probe nvim version: %v", err)
	}
	if !supported {
		t.Skip("nvim 0.10 or newer required")
	}
	return v
}

func floatCount(t *testing.T, v *nvim.Nvim) int {
	t.Helper()
	var n int
	err := v.ExecLua(`
local n = 0
for _, win in ipairs(vim.api.nvim_list_wins()) do
  if vim.api.nvim_win_get_config(win).relative ~= '' then
    n = n + 1
  end
end
return n
`, &n)
	if err != nil {
		t.Fatalf("count floats: %v", err)
	}
	return n
}
