package lane

import (
	"image"

	"LaneDetServer/geometry"
)

// SelectROI returns the search region for the next frame of a width×height
// image. The vertical band is always [height*ROITopNum/ROITopDen, height].
//
// Until both sides are locked the band spans the full width. After that the
// horizontal range follows the bottom ends of the last lines with a margin
// of width/XErrorDiv, and a side that has been missing for MaxLastCounter
// frames or more is widened outward in proportion to its miss counter.
func SelectROI(width, height int, st State, p Params) image.Rectangle {
	top := p.roiTop(height)
	full := image.Rect(0, top, width, height)

	l, r := st.Sides[Left], st.Sides[Right]
	if !l.Locked || !r.Locked {
		return full
	}

	leftLine, okL := geometry.Extrapolate(l.Line, top, height)
	rightLine, okR := geometry.Extrapolate(r.Line, top, height)
	if !okL || !okR {
		return full
	}

	xErr := width / p.XErrorDiv
	leftEdge := clamp(geometry.BottomX(leftLine)-xErr, 0, width)
	rightEdge := clamp(geometry.BottomX(rightLine)+xErr, 0, width)
	if rightEdge < leftEdge {
		leftEdge, rightEdge = 0, width
	}

	if l.Misses >= p.MaxLastCounter {
		leftEdge = clamp(leftEdge-widening(l.Misses, xErr, p), 0, width)
	}
	if r.Misses >= p.MaxLastCounter {
		rightEdge = clamp(rightEdge+widening(r.Misses, xErr, p), 0, width)
	}

	return image.Rect(leftEdge, top, rightEdge, height)
}

// widening grows linearly with the miss counter: one full margin at
// MaxLastCounter misses, two at twice that, and so on.
func widening(misses, xErr int, p Params) int {
	return int(float64(misses) / float64(p.MaxLastCounter) * float64(xErr))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
