package core

const (
	// MinPoolBudget is the smallest adaptive budget a tab pool can have.
	MinPoolBudget = 32
	// MaxPoolBudget is the largest adaptive budget a tab pool can have.
	MaxPoolBudget = 256
	// PoolBudgetMargin is the headroom kept above smoothed demand, and the
	// largest step the budget shrinks by per frame.
	PoolBudgetMargin = 8

	// maxFrameDemand bounds the demand fed into the moving average so the
	// fixed-point arithmetic cannot overflow.
	maxFrameDemand = 1 << 20
)

// budgetState is the adaptive budget controller state. Demand is tracked in
// milli-units so repeated smoothing does not drift.
type budgetState struct {
	ewmaDemandMilli uint64
	cachedBudget    int
}

func newBudgetState() budgetState {
	return budgetState{cachedBudget: MinPoolBudget}
}

// nextAdaptiveBudget folds one frame of demand into the controller. Growth
// is immediate; shrinking is limited to PoolBudgetMargin per call.
func nextAdaptiveBudget(prev budgetState, frameDemand int) budgetState {
	if frameDemand < 0 {
		frameDemand = 0
	}
	if frameDemand > maxFrameDemand {
		frameDemand = maxFrameDemand
	}
	demandMilli := uint64(frameDemand) * 1000
	nextEWMA := demandMilli
	if prev.ewmaDemandMilli != 0 {
		nextEWMA = (prev.ewmaDemandMilli*7 + demandMilli*3 + 9) / 10
	}
	ewmaDemand := int((nextEWMA + 999) / 1000)
	target := clampBudget(ewmaDemand + PoolBudgetMargin)

	prevBudget := clampBudget(prev.cachedBudget)
	next := target
	if target < prevBudget {
		next = max(prevBudget-PoolBudgetMargin, target, MinPoolBudget)
	}
	return budgetState{ewmaDemandMilli: nextEWMA, cachedBudget: next}
}

// effectiveKeepBudget applies the configured hard cap over the adaptive budget.
func effectiveKeepBudget(cachedBudget, maxKeptWindows int) int {
	keep := min(cachedBudget, maxKeptWindows)
	if keep < 0 {
		return 0
	}
	return keep
}

func clampBudget(v int) int {
	return min(max(v, MinPoolBudget), MaxPoolBudget)
}
