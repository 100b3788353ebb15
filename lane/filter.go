package lane

import (
	"image"
	"math"

	"LaneDetServer/geometry"
)

// best is a running argmin over the candidates of one side.
type best struct {
	index int
	score int
	line  geometry.LineSegment
	angle float64
}

func newBest() best {
	return best{index: -1, score: math.MaxInt}
}

func (b best) offer(i, score int, line geometry.LineSegment, angle float64) best {
	if score < b.score {
		return best{index: i, score: score, line: line, angle: angle}
	}
	return b
}

func (b best) candidate() Candidate {
	if b.index < 0 {
		return Candidate{}
	}
	return Candidate{Found: true, Line: b.line, Angle: b.angle}
}

// Filter picks at most one left and one right candidate out of the raw
// segments of a region whose top-left corner is origin. width is the full
// frame width. Segments are returned in absolute frame coordinates.
//
// A segment is a left candidate when x1+x2 < width, a right one otherwise.
// Within a side, the eligible segment whose bottom end lies closest to the
// frame centre wins.
func Filter(segments []geometry.LineSegment, origin image.Point, width int, st State, p Params) Selection {
	center := width / 2
	left, right := newBest(), newBest()

	for i, raw := range segments {
		seg := geometry.Translate(raw, origin.X, origin.Y)
		angle := geometry.AngleOf(seg)

		// near-horizontal and near-vertical segments
		if math.Abs(angle) <= p.AngleMin || math.Abs(angle) >= p.AngleMax {
			continue
		}

		bottomX := geometry.BottomX(seg)
		if seg.X1+seg.X2 < width {
			if angle > -p.AngleMax && angle < -p.AngleMin && gateOpen(st.Sides[Left], angle, p) {
				left = left.offer(i, center-bottomX, seg, angle)
			}
		} else {
			if angle > p.AngleMin && angle < p.AngleMax && gateOpen(st.Sides[Right], angle, p) {
				right = right.offer(i, bottomX-center, seg, angle)
			}
		}
	}

	var sel Selection
	sel.Raw = len(segments)
	sel.Sides[Left] = left.candidate()
	sel.Sides[Right] = right.candidate()
	return sel
}

// gateOpen reports whether angle is compatible with the side's history.
// An unlocked side takes anything; a locked one only takes angles close to
// its last one, until it has been missing for more than MaxLastCounter
// frames.
func gateOpen(s SideState, angle float64, p Params) bool {
	return !s.Locked ||
		math.Abs(angle-s.Angle) < p.MaxAngleDiff ||
		s.Misses > p.MaxLastCounter
}
