package schema

// PoolSnapshot is a read-only view of pool occupancy. For a single tab it
// reflects that tab's pool; global snapshots sum every tab.
type PoolSnapshot struct {
	Tabs            int `json:"tabs"`
	Total           int `json:"total"`
	Available       int `json:"available"`
	InUse           int `json:"in_use"`
	CachedBudget    int `json:"cached_budget"`
	LastFrameDemand int `json:"last_frame_demand"`
}

// Add accumulates other into s.
func (s PoolSnapshot) Add(other PoolSnapshot) PoolSnapshot {
	s.Tabs += other.Tabs
	s.Total += other.Total
	s.Available += other.Available
	s.InUse += other.InUse
	s.CachedBudget += other.CachedBudget
	s.LastFrameDemand += other.LastFrameDemand
	return s
}
