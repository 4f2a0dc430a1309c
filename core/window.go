package core

import "pkt.systems/cursortrail/schema"

// lifecycle is the state of a pooled render window.
type lifecycle uint8

const (
	// lifecycleAvailableHidden: the surface exists, is hidden, and is unclaimed.
	lifecycleAvailableHidden lifecycle = iota
	// lifecycleAvailableVisible: the surface is still on screen but unclaimed.
	lifecycleAvailableVisible
	// lifecycleInUse: the surface is claimed for the frame tagged by epoch.
	lifecycleInUse
	// lifecycleInvalid: the host no longer recognizes the surface.
	lifecycleInvalid
)

func (l lifecycle) String() string {
	switch l {
	case lifecycleAvailableHidden:
		return "available_hidden"
	case lifecycleAvailableVisible:
		return "available_visible"
	case lifecycleInUse:
		return "in_use"
	case lifecycleInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// RolloverOutcome classifies how an in-use window was returned to the pool.
type RolloverOutcome uint8

const (
	// ReleasedForReuse means the window was claimed in the frame being closed.
	ReleasedForReuse RolloverOutcome = iota
	// RecoveredStaleInUse means the claim belonged to an earlier frame and
	// was never released.
	RecoveredStaleInUse
)

func (o RolloverOutcome) String() string {
	switch o {
	case ReleasedForReuse:
		return "released"
	case RecoveredStaleInUse:
		return "recovered_stale"
	default:
		return "unknown"
	}
}

// cachedWindow is one pool entry. epoch holds the last-used epoch while
// available and the claim epoch while in use. placement is meaningful only
// when placed is set, and an in-use window is always placed.
type cachedWindow struct {
	handle    schema.WindowBufferHandle
	state     lifecycle
	epoch     schema.FrameEpoch
	placement schema.WindowPlacement
	placed    bool
}

func newHiddenWindow(handle schema.WindowBufferHandle, epoch schema.FrameEpoch) cachedWindow {
	return cachedWindow{handle: handle, state: lifecycleAvailableHidden, epoch: epoch}
}

func (w *cachedWindow) isAvailable() bool {
	return w.state == lifecycleAvailableHidden || w.state == lifecycleAvailableVisible
}

func (w *cachedWindow) isInUse() bool {
	return w.state == lifecycleInUse
}

func (w *cachedWindow) isInvalid() bool {
	return w.state == lifecycleInvalid
}

// availableEpoch returns the last-used epoch of an available window.
func (w *cachedWindow) availableEpoch() (schema.FrameEpoch, bool) {
	if !w.isAvailable() {
		return 0, false
	}
	return w.epoch, true
}

// shouldHide reports whether the window is still on screen without a claim.
func (w *cachedWindow) shouldHide() bool {
	return w.state == lifecycleAvailableVisible
}

// markHidden records that the host hid the surface.
func (w *cachedWindow) markHidden() {
	if w.state == lifecycleAvailableVisible {
		w.state = lifecycleAvailableHidden
	}
}

// markInUse claims the window at placement for the frame tagged epoch.
func (w *cachedWindow) markInUse(epoch schema.FrameEpoch, placement schema.WindowPlacement) {
	w.state = lifecycleInUse
	w.epoch = epoch
	w.placement = placement
	w.placed = true
}

// markInvalid retires the window; it must never be reused.
func (w *cachedWindow) markInvalid() {
	w.state = lifecycleInvalid
	w.placement = schema.WindowPlacement{}
	w.placed = false
}

// needsReconfigure is false only when the surface is on screen at target.
func (w *cachedWindow) needsReconfigure(target schema.WindowPlacement) bool {
	onScreen := w.state == lifecycleAvailableVisible || w.state == lifecycleInUse
	return !(onScreen && w.placed && w.placement == target)
}

// rolloverToNextEpoch returns an in-use window to the pool as visible.
// previous is the epoch of the frame being closed.
func (w *cachedWindow) rolloverToNextEpoch(previous schema.FrameEpoch) (RolloverOutcome, bool) {
	if w.state != lifecycleInUse {
		return 0, false
	}
	outcome := ReleasedForReuse
	if w.epoch != previous {
		outcome = RecoveredStaleInUse
	}
	w.state = lifecycleAvailableVisible
	return outcome, true
}
