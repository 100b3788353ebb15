package lane

import (
	"image"
	"testing"

	"LaneDetServer/geometry"

	"github.com/stretchr/testify/assert"
)

func TestSelectROIUnlocked(t *testing.T) {
	full := image.Rect(0, 288, testW, testH)
	p := DefaultParams()

	assert.Equal(t, full, SelectROI(testW, testH, State{}, p))

	st := lockedState(leftSeg, rightSeg)
	st.Sides[Right].Locked = false
	assert.Equal(t, full, SelectROI(testW, testH, st, p))
}

func TestSelectROILocked(t *testing.T) {
	st := lockedState(leftSeg, rightSeg)
	assert.Equal(t, image.Rect(120, 288, 572, testH), SelectROI(testW, testH, st, DefaultParams()))
}

func TestSelectROIClampsToFrame(t *testing.T) {
	// bottom ends at x=40 and x=620; margins would leave the frame
	left := geometry.LineSegment{X1: 40, Y1: 480, X2: 232, Y2: 288}
	right := geometry.LineSegment{X1: 428, Y1: 288, X2: 620, Y2: 480}
	st := lockedState(left, right)
	assert.Equal(t, image.Rect(0, 288, testW, testH), SelectROI(testW, testH, st, DefaultParams()))
}

func TestSelectROICrossedLines(t *testing.T) {
	// the left line ends right of the right one
	left := geometry.LineSegment{X1: 500, Y1: 480, X2: 600, Y2: 380}
	right := geometry.LineSegment{X1: 20, Y1: 380, X2: 120, Y2: 480}
	st := lockedState(left, right)
	assert.Equal(t, image.Rect(0, 288, testW, testH), SelectROI(testW, testH, st, DefaultParams()))
}

func TestSelectROITouchingEdges(t *testing.T) {
	// left bottom at x=400, right at x=240: both margins meet at x=320
	left := geometry.LineSegment{X1: 400, Y1: 480, X2: 592, Y2: 288}
	right := geometry.LineSegment{X1: 48, Y1: 288, X2: 240, Y2: 480}
	st := lockedState(left, right)
	roi := SelectROI(testW, testH, st, DefaultParams())
	assert.Equal(t, image.Rect(320, 288, 320, testH), roi)
	assert.Zero(t, roi.Dx())
}

func TestSelectROIWideningRamp(t *testing.T) {
	p := DefaultParams()

	t.Run("left", func(t *testing.T) {
		want := map[int]int{0: 120, 4: 120, 5: 40, 6: 24, 7: 8, 8: 0, 20: 0}
		for misses, edge := range want {
			st := lockedState(leftSeg, rightSeg)
			st.Sides[Left].Misses = misses
			roi := SelectROI(testW, testH, st, p)
			assert.Equal(t, edge, roi.Min.X, "misses=%d", misses)
			assert.Equal(t, 572, roi.Max.X, "right edge must not move, misses=%d", misses)
		}
	})

	t.Run("non shrinking on both sides", func(t *testing.T) {
		prev := SelectROI(testW, testH, lockedState(leftSeg, rightSeg), p)
		for misses := 1; misses <= 4*p.MaxLastCounter; misses++ {
			st := lockedState(leftSeg, rightSeg)
			st.Sides[Left].Misses = misses
			st.Sides[Right].Misses = misses
			roi := SelectROI(testW, testH, st, p)

			assert.LessOrEqual(t, roi.Min.X, prev.Min.X)
			assert.GreaterOrEqual(t, roi.Max.X, prev.Max.X)
			assert.GreaterOrEqual(t, roi.Min.X, 0)
			assert.LessOrEqual(t, roi.Max.X, testW)
			assert.Equal(t, 288, roi.Min.Y)
			assert.Equal(t, testH, roi.Max.Y)
			prev = roi
		}
		assert.Equal(t, image.Rect(0, 288, testW, testH), prev)
	})
}
