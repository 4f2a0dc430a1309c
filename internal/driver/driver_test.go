package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"pkt.systems/cursortrail/core"
	"pkt.systems/cursortrail/schema"
	"pkt.systems/pslog"
)

type stubHost struct {
	next       int
	open       map[schema.WindowID]bool
	visible    map[schema.WindowID]bool
	failCreate bool
}

func newStubHost() *stubHost {
	return &stubHost{next: 1000, open: map[schema.WindowID]bool{}, visible: map[schema.WindowID]bool{}}
}

func (h *stubHost) CreateHiddenSurface(context.Context) (schema.WindowBufferHandle, error) {
	if h.failCreate {
		return schema.WindowBufferHandle{}, errors.New("create failed")
	}
	id := schema.WindowID(h.next)
	h.next++
	h.open[id] = true
	return schema.WindowBufferHandle{WindowID: id, BufferID: schema.BufferID(id)}, nil
}

func (h *stubHost) ReconfigureSurface(_ context.Context, handle schema.WindowBufferHandle, _ schema.WindowPlacement, visible bool) error {
	if !h.open[handle.WindowID] {
		return errors.New("invalid window id")
	}
	h.visible[handle.WindowID] = visible
	return nil
}

func (h *stubHost) CloseSurface(_ context.Context, handle schema.WindowBufferHandle) error {
	if !h.open[handle.WindowID] {
		return errors.New("invalid window id")
	}
	delete(h.open, handle.WindowID)
	delete(h.visible, handle.WindowID)
	return nil
}

func (h *stubHost) SurfaceIsValid(_ context.Context, handle schema.WindowBufferHandle) bool {
	return h.open[handle.WindowID]
}

func (h *stubHost) BufferIsValid(_ context.Context, handle schema.WindowBufferHandle) bool {
	return h.open[handle.WindowID]
}

func (h *stubHost) ClearDrawnMarks(context.Context, schema.WindowBufferHandle) {}

func (h *stubHost) OrphanSurfaces(context.Context) ([]schema.WindowBufferHandle, error) {
	return nil, nil
}

func (h *stubHost) visibleCount() int {
	n := 0
	for _, v := range h.visible {
		if v {
			n++
		}
	}
	return n
}

type recordingPainter struct {
	draws   []Payload
	notices []string
	failAll bool
	missing map[schema.WindowID]bool
}

func (p *recordingPainter) DrawPayload(_ context.Context, handle schema.WindowBufferHandle, payload Payload) error {
	if p.failAll {
		return errors.New("draw failed")
	}
	if p.missing[handle.WindowID] {
		return fmt.Errorf("draw buffer %d: %w", handle.BufferID, schema.ErrMissingBuffer)
	}
	p.draws = append(p.draws, payload)
	return nil
}

func (p *recordingPainter) Notify(_ context.Context, msg string, _ NotifyLevel) error {
	p.notices = append(p.notices, msg)
	return nil
}

type manualDeferrer struct {
	pending []func()
	delays  []time.Duration
}

func (d *manualDeferrer) AfterFunc(delay time.Duration, fn func()) {
	d.delays = append(d.delays, delay)
	d.pending = append(d.pending, fn)
}

func (d *manualDeferrer) fire() {
	pending := d.pending
	d.pending = nil
	d.delays = nil
	for _, fn := range pending {
		fn()
	}
}

type harness struct {
	driver   *Driver
	host     *stubHost
	painter  *recordingPainter
	deferrer *manualDeferrer
	now      time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		host:     newStubHost(),
		painter:  &recordingPainter{},
		deferrer: &manualDeferrer{},
		now:      time.Unix(1_700_000_000, 0),
	}
	reg, err := core.NewRegistry(core.RegistryDeps{Host: h.host})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	d, err := New(cfg, Deps{
		Registry: reg,
		Painter:  h.painter,
		Deferrer: h.deferrer,
		Now:      func() time.Time { return h.now },
	})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	h.driver = d
	return h
}

func testConfig() Config {
	return Config{
		Pool: schema.PoolConfig{
			MaxKeptWindows: 64,
			IdleRelease:    120 * time.Millisecond,
			PurgeAfter:     time.Minute,
		},
		Trail: schema.TrailConfig{Segments: 4, Stiffness: 0.5, SettleDistance: 0.2, ZIndex: 300},
	}
}

func (h *harness) runUntilSettled(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 500; i++ {
		h.driver.Tick(ctx)
		h.now = h.now.Add(16 * time.Millisecond)
		if !h.driver.Animating() {
			return i
		}
	}
	t.Fatalf("animation never settled")
	return 0
}

func TestFirstCursorPositionOnlySeeds(t *testing.T) {
	h := newHarness(t, testConfig())
	h.driver.OnCursorMoved(context.Background(), 1, 4, 4)
	if h.driver.Animating() {
		t.Fatalf("expected no animation for the first position")
	}
	h.driver.Tick(context.Background())
	if len(h.host.open) != 0 {
		t.Fatalf("expected no windows, got %d", len(h.host.open))
	}
}

func TestCursorJumpDrawsTrail(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.driver.OnCursorMoved(ctx, 1, 0, 0)
	h.driver.OnCursorMoved(ctx, 1, 0, 10)
	if !h.driver.Animating() {
		t.Fatalf("expected animation after a move")
	}
	h.driver.Tick(ctx)

	snap, ok := h.driver.Snapshot(1)
	if !ok || snap.Total == 0 || snap.InUse != 0 {
		t.Fatalf("unexpected snapshot %+v (%v)", snap, ok)
	}
	if h.host.visibleCount() != snap.Total {
		t.Fatalf("expected every window visible, %d of %d", h.host.visibleCount(), snap.Total)
	}
	if len(h.painter.draws) != snap.Total {
		t.Fatalf("expected one draw per window, got %d", len(h.painter.draws))
	}
	if h.painter.draws[0].Highlight != HighlightPrefix+"1" || h.painter.draws[0].Text != TrailGlyph {
		t.Fatalf("unexpected head payload %+v", h.painter.draws[0])
	}
}

func TestSettleSchedulesReleaseThenPurge(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.driver.OnCursorMoved(ctx, 1, 0, 0)
	h.driver.OnCursorMoved(ctx, 1, 12, 30)
	h.runUntilSettled(t)

	if len(h.deferrer.delays) != 2 || h.deferrer.delays[0] != 120*time.Millisecond || h.deferrer.delays[1] != time.Minute {
		t.Fatalf("unexpected scheduled delays %v", h.deferrer.delays)
	}
	if len(h.host.open) == 0 {
		t.Fatalf("expected pooled windows to survive settling")
	}
	h.deferrer.fire()
	if len(h.host.open) != 0 {
		t.Fatalf("expected purge to close every window, %d open", len(h.host.open))
	}
	if snap := h.driver.GlobalSnapshot(); snap.Total != 0 || snap.Tabs != 0 {
		t.Fatalf("expected empty registry, got %+v", snap)
	}
}

func TestSettleHidesTrailAndKeepsPool(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.driver.OnCursorMoved(ctx, 1, 0, 0)
	h.driver.OnCursorMoved(ctx, 1, 12, 30)
	h.runUntilSettled(t)

	if h.host.visibleCount() != 0 {
		t.Fatalf("expected trail hidden on settle, %d visible", h.host.visibleCount())
	}
	open := len(h.host.open)
	if open == 0 {
		t.Fatalf("expected windows kept for reuse")
	}
	release := h.deferrer.pending[0]
	release()
	if len(h.host.open) != open {
		t.Fatalf("expected idle pass within budget to keep %d windows, got %d", open, len(h.host.open))
	}
}

func TestCursorMoveCancelsPendingCleanup(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.driver.OnCursorMoved(ctx, 1, 0, 0)
	h.driver.OnCursorMoved(ctx, 1, 5, 5)
	h.runUntilSettled(t)
	open := len(h.host.open)

	h.driver.OnCursorMoved(ctx, 1, 9, 9)
	h.deferrer.fire()
	if len(h.host.open) != open {
		t.Fatalf("expected cancelled cleanup to leave %d windows, got %d", open, len(h.host.open))
	}
}

func TestIdenticalFrameIsSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	placements := []schema.WindowPlacement{
		{Row: 1, Col: 1, Width: 1, ZIndex: 300},
		{Row: 1, Col: 2, Width: 1, ZIndex: 300},
	}
	h.driver.drawFrame(ctx, 1, placements)
	draws := len(h.painter.draws)
	epoch := h.driver.registry.CurrentEpoch(1)

	h.driver.drawFrame(ctx, 1, placements)
	if h.driver.registry.CurrentEpoch(1) != epoch {
		t.Fatalf("expected skipped frame to leave epoch %d, got %d", epoch, h.driver.registry.CurrentEpoch(1))
	}
	if len(h.painter.draws) != draws {
		t.Fatalf("expected no redraw for identical frame")
	}
}

func TestPayloadMemoAvoidsRedraw(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	a := schema.WindowPlacement{Row: 1, Col: 1, Width: 1, ZIndex: 300}
	b := schema.WindowPlacement{Row: 1, Col: 2, Width: 1, ZIndex: 300}
	c := schema.WindowPlacement{Row: 1, Col: 3, Width: 1, ZIndex: 300}

	h.driver.drawFrame(ctx, 1, []schema.WindowPlacement{a, b})
	if len(h.painter.draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(h.painter.draws))
	}
	h.driver.drawFrame(ctx, 1, []schema.WindowPlacement{a, c})
	if len(h.painter.draws) != 2 {
		t.Fatalf("expected memo hits for reused windows, got %d draws", len(h.painter.draws))
	}
	if snap, _ := h.driver.Snapshot(1); snap.Total != 2 {
		t.Fatalf("expected windows reused, got %+v", snap)
	}
}

func TestFailuresNotifyOncePerInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Notify = schema.NotifyConfig{FailureThreshold: 2, MinInterval: time.Minute}
	h := newHarness(t, cfg)
	h.host.failCreate = true
	ctx := context.Background()
	frame := []schema.WindowPlacement{
		{Row: 1, Col: 1, Width: 1, ZIndex: 300},
		{Row: 1, Col: 2, Width: 1, ZIndex: 300},
	}
	h.driver.drawFrame(ctx, 1, frame)
	if len(h.painter.notices) != 1 {
		t.Fatalf("expected one notice, got %v", h.painter.notices)
	}
	h.driver.drawFrame(ctx, 1, frame)
	if len(h.painter.notices) != 1 {
		t.Fatalf("expected throttled notice, got %v", h.painter.notices)
	}
	h.now = h.now.Add(2 * time.Minute)
	h.driver.drawFrame(ctx, 1, frame)
	if len(h.painter.notices) != 2 {
		t.Fatalf("expected a second notice after the interval, got %v", h.painter.notices)
	}
}

func TestRetainTabsDropsClosedTabs(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	placement := []schema.WindowPlacement{{Row: 1, Col: 1, Width: 1, ZIndex: 300}}
	h.driver.drawFrame(ctx, 1, placement)
	h.driver.drawFrame(ctx, 2, placement)
	h.driver.OnCursorMoved(ctx, 2, 3, 3)

	if removed := h.driver.RetainTabs(ctx, []schema.TabID{1}); removed != 1 {
		t.Fatalf("expected one tab removed, got %d", removed)
	}
	if _, ok := h.driver.Snapshot(2); ok {
		t.Fatalf("expected tab 2 forgotten")
	}
	if len(h.host.open) != 1 {
		t.Fatalf("expected tab 2 window closed, %d open", len(h.host.open))
	}
	h.driver.OnTabClosed(ctx, 1)
	if len(h.host.open) != 0 {
		t.Fatalf("expected tab 1 window closed, %d open", len(h.host.open))
	}
}

func TestWindowClosedRecoversPool(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.driver.drawFrame(ctx, 1, []schema.WindowPlacement{{Row: 1, Col: 1, Width: 1, ZIndex: 300}})
	delete(h.host.open, 1000)
	if !h.driver.OnWindowClosed(ctx, 1000) {
		t.Fatalf("expected pool window to be recovered")
	}
	if h.driver.OnWindowClosed(ctx, 1000) {
		t.Fatalf("expected second notice to be ignored")
	}
	if snap, _ := h.driver.Snapshot(1); snap.Total != 0 {
		t.Fatalf("expected empty pool, got %+v", snap)
	}
}

func TestNewValidatesDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Fatalf("expected missing deps to fail")
	}
}

func TestMissingBufferDropsWindow(t *testing.T) {
	h := newHarness(t, testConfig())
	h.painter.missing = map[schema.WindowID]bool{1000: true}
	ctx := context.Background()
	h.driver.OnCursorMoved(ctx, 1, 0, 0)
	h.driver.OnCursorMoved(ctx, 1, 0, 10)
	h.driver.Tick(ctx)

	if h.host.open[1000] {
		t.Fatalf("expected window without a buffer to be closed")
	}
	snap, ok := h.driver.Snapshot(1)
	if !ok || snap.Total != len(h.host.open) {
		t.Fatalf("expected pool to match open windows, got %+v with %d open", snap, len(h.host.open))
	}
	if len(h.painter.draws) == 0 {
		t.Fatalf("expected the other segments to be drawn")
	}
}

func TestFrameLogsCarryTabOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.painter.failAll = true
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.DebugLevel,
		VerboseFields: true,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	h.driver.OnCursorMoved(ctx, 2, 0, 0)
	h.driver.OnCursorMoved(ctx, 2, 0, 10)
	h.driver.Tick(ctx)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	seen := false
	for _, line := range lines {
		if !strings.Contains(line, "driver draw failed") {
			continue
		}
		seen = true
		if n := strings.Count(line, `"tab":`); n != 1 {
			t.Fatalf("expected one tab field, got %d in %s", n, line)
		}
	}
	if !seen {
		t.Fatalf("expected draw failures to be logged, got %s", buf.String())
	}
}
