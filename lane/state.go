package lane

import "LaneDetServer/geometry"

type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// Sides lists both sides in output order.
var Sides = [2]Side{Left, Right}

// SideState is what the tracker remembers about one lane boundary.
//
// Locked is set by the first accepted candidate and only cleared by Reset.
// Angle is meaningful only while Locked.
type SideState struct {
	Line   geometry.LineSegment
	Angle  float64
	Locked bool
	Misses int
}

// State is the persistent tracker state, indexed by Side.
type State struct {
	Sides [2]SideState
}

func (st State) Side(s Side) SideState {
	return st.Sides[s]
}

// Candidate is the filter's verdict for one side of one frame.
type Candidate struct {
	Found bool
	Line  geometry.LineSegment
	Angle float64
}

// Selection is the per-frame state delta produced by Filter.
type Selection struct {
	Sides [2]Candidate
	// Raw is the number of segments the extractor returned.
	Raw int
}

// Apply returns the state after one frame. A found candidate replaces the
// side's line and angle and clears its miss counter; otherwise the old line
// is kept and the counter grows.
func (st State) Apply(sel Selection) State {
	next := st
	for _, side := range Sides {
		c := sel.Sides[side]
		s := &next.Sides[side]
		if c.Found {
			s.Line = c.Line
			s.Angle = c.Angle
			s.Locked = true
			s.Misses = 0
		} else {
			s.Misses++
		}
	}
	return next
}

// reset clears locks and counters. Lines and angles stay in memory but are
// ignored until the side locks again.
func (st *State) reset() {
	for i := range st.Sides {
		st.Sides[i].Locked = false
		st.Sides[i].Misses = 0
	}
}
