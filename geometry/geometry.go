package geometry

import "math"

// LineSegment is an undirected segment in pixel coordinates. Neither
// endpoint is "first": top and bottom are decided by comparing Y.
type LineSegment struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Vec returns the segment as x1, y1, x2, y2.
func (s LineSegment) Vec() []int {
	return []int{s.X1, s.Y1, s.X2, s.Y2}
}

func (s LineSegment) IsZero() bool {
	return s == LineSegment{}
}

// AngleOf returns atan2(dy, dx) in degrees. The sign depends on endpoint
// order and is kept as is.
func AngleOf(s LineSegment) float64 {
	dx := float64(s.X2 - s.X1)
	dy := float64(s.Y2 - s.Y1)
	return math.Atan2(dy, dx) * 180 / math.Pi
}

// BottomX is the x of the endpoint with the larger y.
func BottomX(s LineSegment) int {
	if s.Y1 > s.Y2 {
		return s.X1
	}
	return s.X2
}

func Translate(s LineSegment, dx, dy int) LineSegment {
	return LineSegment{X1: s.X1 + dx, Y1: s.Y1 + dy, X2: s.X2 + dx, Y2: s.Y2 + dy}
}

// Mirror flips s around the vertical axis of a frame of the given width.
// Endpoints are swapped so that AngleOf(Mirror(s)) == -AngleOf(s).
func Mirror(s LineSegment, width int) LineSegment {
	return LineSegment{X1: width - s.X2, Y1: s.Y2, X2: width - s.X1, Y2: s.Y1}
}

// Extrapolate extends s so that it spans exactly topY..bottomY. The endpoint
// that was lower in the image (larger y) ends on bottomY, the other on topY.
// x values are rounded half to even. ok is false for vertical or horizontal
// segments, whose extension is undefined; s is returned unchanged then.
func Extrapolate(s LineSegment, topY, bottomY int) (out LineSegment, ok bool) {
	if s.X1 == s.X2 || s.Y1 == s.Y2 {
		return s, false
	}
	xAt := func(y int) int {
		x, _ := XAt(s, y)
		return int(math.RoundToEven(x))
	}

	if s.Y1 > s.Y2 {
		return LineSegment{X1: xAt(bottomY), Y1: bottomY, X2: xAt(topY), Y2: topY}, true
	}
	return LineSegment{X1: xAt(topY), Y1: topY, X2: xAt(bottomY), Y2: bottomY}, true
}

// XAt returns the x where the infinite line through s crosses y.
func XAt(s LineSegment, y int) (float64, bool) {
	if s.X1 == s.X2 {
		return float64(s.X1), true
	}
	if s.Y1 == s.Y2 {
		return 0, false
	}
	k := float64(s.Y1-s.Y2) / float64(s.X1-s.X2)
	b := float64(s.Y1) - k*float64(s.X1)
	return (float64(y) - b) / k, true
}
