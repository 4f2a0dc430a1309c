// Package trail computes the cells a cursor trail covers each frame.
package trail

import (
	"math"

	"pkt.systems/cursortrail/schema"
)

// Point is a fractional screen position in cells.
type Point struct {
	Row float64
	Col float64
}

// Cell rounds p to the nearest screen cell.
func (p Point) Cell() (row, col int) {
	return int(math.Round(p.Row)), int(math.Round(p.Col))
}

func (p Point) distance(q Point) float64 {
	return math.Hypot(p.Row-q.Row, p.Col-q.Col)
}

// State is the spring chain for one tab. The head is Points[0].
type State struct {
	Points []Point
}

// NewState returns a settled chain of segments points at p.
func NewState(p Point, segments int) State {
	points := make([]Point, max(segments, 1))
	for i := range points {
		points[i] = p
	}
	return State{Points: points}
}

// Settled reports whether every point sits on target.
func (s State) Settled(target Point) bool {
	for _, p := range s.Points {
		if p != target {
			return false
		}
	}
	return len(s.Points) > 0
}

// Step advances the chain one frame toward target. The head springs toward
// target and every other point toward its predecessor. It returns the next
// state, the cells to paint (target cell excluded, each cell once, head
// first), and whether the chain has settled. A settled chain snaps onto
// target and paints nothing.
func Step(state State, target Point, cfg schema.TrailConfig) (State, []schema.WindowPlacement, bool) {
	points := resize(state.Points, cfg.Segments, target)
	prev := target
	settled := true
	for i := range points {
		points[i].Row += (prev.Row - points[i].Row) * cfg.Stiffness
		points[i].Col += (prev.Col - points[i].Col) * cfg.Stiffness
		if points[i].distance(target) > cfg.SettleDistance {
			settled = false
		}
		prev = points[i]
	}
	if settled {
		for i := range points {
			points[i] = target
		}
		return State{Points: points}, nil, true
	}

	targetRow, targetCol := target.Cell()
	seen := make(map[[2]int]struct{}, len(points))
	placements := make([]schema.WindowPlacement, 0, len(points))
	for _, p := range points {
		row, col := p.Cell()
		row, col = max(row, 0), max(col, 0)
		if row == targetRow && col == targetCol {
			continue
		}
		key := [2]int{row, col}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		placements = append(placements, schema.WindowPlacement{Row: row, Col: col, Width: 1, ZIndex: cfg.ZIndex})
	}
	return State{Points: points}, placements, false
}

func resize(points []Point, segments int, fill Point) []Point {
	segments = max(segments, 1)
	out := make([]Point, segments)
	n := copy(out, points)
	if n > 0 {
		fill = out[n-1]
	}
	for i := n; i < segments; i++ {
		out[i] = fill
	}
	return out
}
