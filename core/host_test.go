package core

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	"pkt.systems/cursortrail/schema"
)

type fakeSurface struct {
	buffer    schema.BufferID
	bufValid  bool
	visible   bool
	placement schema.WindowPlacement
}

type fakeHost struct {
	next            int
	surfaces        map[schema.WindowID]*fakeSurface
	failCreate      bool
	failReconfigure map[schema.WindowID]bool
	creates         int
	reconfigures    int
	closes          []schema.WindowID
	cleared         []schema.WindowID
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		next:            1000,
		surfaces:        make(map[schema.WindowID]*fakeSurface),
		failReconfigure: make(map[schema.WindowID]bool),
	}
}

func (h *fakeHost) CreateHiddenSurface(context.Context) (schema.WindowBufferHandle, error) {
	if h.failCreate {
		return schema.WindowBufferHandle{}, errors.New("create failed")
	}
	h.creates++
	id := schema.WindowID(h.next)
	buf := schema.BufferID(h.next - 999)
	h.next++
	h.surfaces[id] = &fakeSurface{buffer: buf, bufValid: true}
	return schema.WindowBufferHandle{WindowID: id, BufferID: buf}, nil
}

func (h *fakeHost) ReconfigureSurface(_ context.Context, handle schema.WindowBufferHandle, placement schema.WindowPlacement, visible bool) error {
	h.reconfigures++
	s, ok := h.surfaces[handle.WindowID]
	if !ok {
		return errors.New("invalid window id")
	}
	if h.failReconfigure[handle.WindowID] {
		return errors.New("reconfigure failed")
	}
	s.placement = placement
	s.visible = visible
	return nil
}

func (h *fakeHost) CloseSurface(_ context.Context, handle schema.WindowBufferHandle) error {
	if _, ok := h.surfaces[handle.WindowID]; !ok {
		return errors.New("invalid window id")
	}
	delete(h.surfaces, handle.WindowID)
	h.closes = append(h.closes, handle.WindowID)
	return nil
}

func (h *fakeHost) SurfaceIsValid(_ context.Context, handle schema.WindowBufferHandle) bool {
	_, ok := h.surfaces[handle.WindowID]
	return ok
}

func (h *fakeHost) BufferIsValid(_ context.Context, handle schema.WindowBufferHandle) bool {
	s, ok := h.surfaces[handle.WindowID]
	return ok && s.bufValid
}

func (h *fakeHost) ClearDrawnMarks(_ context.Context, handle schema.WindowBufferHandle) {
	h.cleared = append(h.cleared, handle.WindowID)
}

func (h *fakeHost) OrphanSurfaces(context.Context) ([]schema.WindowBufferHandle, error) {
	var out []schema.WindowBufferHandle
	for _, id := range slices.Sorted(maps.Keys(h.surfaces)) {
		out = append(out, schema.WindowBufferHandle{WindowID: id, BufferID: h.surfaces[id].buffer})
	}
	return out, nil
}

// addOrphan opens a marked surface the registry does not track.
func (h *fakeHost) addOrphan() schema.WindowID {
	id := schema.WindowID(h.next)
	h.next++
	h.surfaces[id] = &fakeSurface{bufValid: true, visible: true}
	return id
}

func (h *fakeHost) visibleCount() int {
	n := 0
	for _, s := range h.surfaces {
		if s.visible {
			n++
		}
	}
	return n
}

func newTestRegistry(t *testing.T) (*Registry, *fakeHost) {
	t.Helper()
	host := newFakeHost()
	reg, err := NewRegistry(RegistryDeps{Host: host})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg, host
}

func at(row, col int) schema.WindowPlacement {
	return schema.WindowPlacement{Row: row, Col: col, Width: 1, ZIndex: 300}
}

// runFrame acquires every placement on tab and closes the frame.
func runFrame(t *testing.T, reg *Registry, tab schema.TabID, placements ...schema.WindowPlacement) []AcquiredWindow {
	t.Helper()
	ctx := context.Background()
	reg.BeginTabFrame(ctx, tab, len(placements))
	var out []AcquiredWindow
	for _, p := range placements {
		acquired, _, err := reg.Acquire(ctx, tab, p, BootstrapIfPoolEmpty)
		if err != nil {
			t.Fatalf("acquire %+v: %v", p, err)
		}
		out = append(out, acquired)
	}
	reg.EndTabFrame(ctx, tab)
	return out
}
