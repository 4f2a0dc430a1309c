package core

import (
	"slices"

	"pkt.systems/cursortrail/schema"
)

// tabPool tracks the render windows of a single tab. windows is a dense
// arena; inUse, visibleAvailable, byPlacement and reuseScanIndex hold
// positions into it and are kept consistent by removeWindows.
type tabPool struct {
	windows          []cachedWindow
	inUse            []int
	visibleAvailable []int
	byPlacement      map[schema.WindowPlacement][]int
	reuseScanIndex   int

	epoch           schema.FrameEpoch
	frameDemand     int
	lastFrameDemand int
	budget          budgetState

	payloads         map[schema.WindowID]uint64
	drawSignature    uint64
	hasDrawSignature bool
}

func newTabPool() *tabPool {
	return &tabPool{
		byPlacement: make(map[schema.WindowPlacement][]int),
		payloads:    make(map[schema.WindowID]uint64),
		budget:      newBudgetState(),
	}
}

// beginFrame folds the frame's demand into the adaptive budget.
func (p *tabPool) beginFrame(demand int) {
	p.budget = nextAdaptiveBudget(p.budget, demand)
	p.frameDemand = 0
}

// endFrame rolls the current frame over and advances the epoch.
func (p *tabPool) endFrame() RolloverReport {
	report := p.rollover(p.epoch)
	p.lastFrameDemand = p.frameDemand
	p.frameDemand = 0
	p.epoch = p.epoch.Next()
	return report
}

// RolloverReport counts the windows released at the end of a frame.
type RolloverReport struct {
	Released       int
	RecoveredStale int
}

// rollover releases every in-use window claimed up to previous. It scans
// the whole arena, not just inUse, so a claim that escaped the index is
// still recovered.
func (p *tabPool) rollover(previous schema.FrameEpoch) RolloverReport {
	var report RolloverReport
	for i := range p.windows {
		w := &p.windows[i]
		outcome, ok := w.rolloverToNextEpoch(previous)
		if !ok {
			continue
		}
		switch outcome {
		case ReleasedForReuse:
			report.Released++
		case RecoveredStaleInUse:
			report.RecoveredStale++
		}
		if !slices.Contains(p.visibleAvailable, i) {
			p.visibleAvailable = append(p.visibleAvailable, i)
		}
		p.indexPlacement(i)
	}
	p.inUse = p.inUse[:0]
	return report
}

// claim moves the window at idx into use for the current epoch.
func (p *tabPool) claim(idx int, placement schema.WindowPlacement) {
	w := &p.windows[idx]
	if w.placed {
		p.unindexPlacement(idx, w.placement)
	}
	w.markInUse(p.epoch, placement)
	p.visibleAvailable = removeValue(p.visibleAvailable, idx)
	if !slices.Contains(p.inUse, idx) {
		p.inUse = append(p.inUse, idx)
	}
}

// bootstrap appends a new window claimed for the current epoch.
func (p *tabPool) bootstrap(handle schema.WindowBufferHandle, placement schema.WindowPlacement) int {
	w := newHiddenWindow(handle, p.epoch)
	w.markInUse(p.epoch, placement)
	p.windows = append(p.windows, w)
	idx := len(p.windows) - 1
	p.inUse = append(p.inUse, idx)
	return idx
}

// invalidate retires the window at idx; it is dropped on the next sweep.
func (p *tabPool) invalidate(idx int) {
	w := &p.windows[idx]
	if w.placed {
		p.unindexPlacement(idx, w.placement)
	}
	w.markInvalid()
	p.inUse = removeValue(p.inUse, idx)
	p.visibleAvailable = removeValue(p.visibleAvailable, idx)
	delete(p.payloads, w.handle.WindowID)
}

// markHidden records that the window at idx is no longer on screen.
func (p *tabPool) markHidden(idx int) {
	p.windows[idx].markHidden()
	p.visibleAvailable = removeValue(p.visibleAvailable, idx)
}

// exactCandidate finds an available window at placement, preferring one
// that is still visible so no host call is needed.
func (p *tabPool) exactCandidate(placement schema.WindowPlacement) (int, bool) {
	candidate := -1
	for _, idx := range p.byPlacement[placement] {
		if idx < 0 || idx >= len(p.windows) {
			continue
		}
		w := &p.windows[idx]
		if !w.isAvailable() || !w.placed || w.placement != placement {
			continue
		}
		if w.shouldHide() {
			return idx, true
		}
		if candidate < 0 {
			candidate = idx
		}
	}
	return candidate, candidate >= 0
}

// nextScanCandidate returns the first available window at or after the
// rotating scan cursor and advances the cursor past it.
func (p *tabPool) nextScanCandidate() (int, bool) {
	n := len(p.windows)
	if n == 0 {
		return 0, false
	}
	start := p.reuseScanIndex
	if start < 0 || start >= n {
		start = 0
	}
	for step := 0; step < n; step++ {
		idx := (start + step) % n
		if p.windows[idx].isAvailable() {
			p.reuseScanIndex = (idx + 1) % n
			return idx, true
		}
	}
	return 0, false
}

// invalidIndices lists the positions of invalid windows.
func (p *tabPool) invalidIndices() []int {
	var out []int
	for i := range p.windows {
		if p.windows[i].isInvalid() {
			out = append(out, i)
		}
	}
	return out
}

// indexOfWindow finds the arena position of a host window id.
func (p *tabPool) indexOfWindow(id schema.WindowID) (int, bool) {
	for i := range p.windows {
		if p.windows[i].handle.WindowID == id {
			return i, true
		}
	}
	return 0, false
}

// removeWindowAt drops one arena entry and shifts every satellite position
// above it down by one. The placement index is left stale; callers go
// through removeWindows, which rebuilds it once per batch.
func (p *tabPool) removeWindowAt(idx int) cachedWindow {
	removed := p.windows[idx]
	p.windows = slices.Delete(p.windows, idx, idx+1)
	p.inUse = shiftAfterRemoval(p.inUse, idx)
	p.visibleAvailable = shiftAfterRemoval(p.visibleAvailable, idx)
	if p.reuseScanIndex > idx {
		p.reuseScanIndex--
	}
	if p.reuseScanIndex >= len(p.windows) {
		p.reuseScanIndex = 0
	}
	delete(p.payloads, removed.handle.WindowID)
	return removed
}

// removeWindows removes a batch of arena positions, in any order and with
// duplicates tolerated, and returns the removed entries in ascending
// position order. It is the only removal path.
func (p *tabPool) removeWindows(indices []int) []cachedWindow {
	if len(indices) == 0 {
		return nil
	}
	sorted := slices.Clone(indices)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	removed := make([]cachedWindow, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		idx := sorted[i]
		if idx < 0 || idx >= len(p.windows) {
			continue
		}
		removed[i] = p.removeWindowAt(idx)
	}
	p.rebuildPlacementIndex()
	return removed
}

// rebuildPlacementIndex recomputes the reuse index over available windows.
func (p *tabPool) rebuildPlacementIndex() {
	clear(p.byPlacement)
	for i := range p.windows {
		p.indexPlacement(i)
	}
}

func (p *tabPool) indexPlacement(idx int) {
	w := &p.windows[idx]
	if !w.isAvailable() || !w.placed {
		return
	}
	if slices.Contains(p.byPlacement[w.placement], idx) {
		return
	}
	p.byPlacement[w.placement] = append(p.byPlacement[w.placement], idx)
}

func (p *tabPool) unindexPlacement(idx int, placement schema.WindowPlacement) {
	list := removeValue(p.byPlacement[placement], idx)
	if len(list) == 0 {
		delete(p.byPlacement, placement)
		return
	}
	p.byPlacement[placement] = list
}

// cachePayload memoizes the content hash last drawn into a window.
func (p *tabPool) cachePayload(id schema.WindowID, hash uint64) {
	p.payloads[id] = hash
}

// cachedPayloadMatches reports whether hash is what the window already shows.
func (p *tabPool) cachedPayloadMatches(id schema.WindowID, hash uint64) bool {
	cached, ok := p.payloads[id]
	return ok && cached == hash
}

func (p *tabPool) clearPayload(id schema.WindowID) {
	delete(p.payloads, id)
}

func (p *tabPool) setDrawSignature(sig uint64) {
	p.drawSignature = sig
	p.hasDrawSignature = true
}

func (p *tabPool) drawSignatureMatches(sig uint64) bool {
	return p.hasDrawSignature && p.drawSignature == sig
}

func (p *tabPool) resetDrawSignature() {
	p.drawSignature = 0
	p.hasDrawSignature = false
}

// hasVisibleWindows reports whether any window of the tab is on screen.
func (p *tabPool) hasVisibleWindows() bool {
	return len(p.visibleAvailable) > 0 || len(p.inUse) > 0
}

// hasPendingClearWork reports whether an idle pass would change anything:
// windows to hide, invalid windows to sweep, or entries above budget.
func (p *tabPool) hasPendingClearWork() bool {
	if len(p.visibleAvailable) > 0 {
		return true
	}
	if len(p.windows) > p.budget.cachedBudget {
		return true
	}
	for i := range p.windows {
		if p.windows[i].isInvalid() {
			return true
		}
	}
	return false
}

func (p *tabPool) snapshot() schema.PoolSnapshot {
	snap := schema.PoolSnapshot{
		Tabs:            1,
		Total:           len(p.windows),
		CachedBudget:    p.budget.cachedBudget,
		LastFrameDemand: p.lastFrameDemand,
	}
	for i := range p.windows {
		switch {
		case p.windows[i].isAvailable():
			snap.Available++
		case p.windows[i].isInUse():
			snap.InUse++
		}
	}
	return snap
}

// shiftAfterRemoval drops removed from indices and decrements every
// position above it.
func shiftAfterRemoval(indices []int, removed int) []int {
	out := indices[:0]
	for _, idx := range indices {
		switch {
		case idx == removed:
			continue
		case idx > removed:
			out = append(out, idx-1)
		default:
			out = append(out, idx)
		}
	}
	return out
}

func removeValue(indices []int, value int) []int {
	return slices.DeleteFunc(indices, func(idx int) bool { return idx == value })
}
