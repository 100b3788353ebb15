package lane

import (
	"errors"
	"fmt"
	"image"

	"LaneDetServer/geometry"
	"LaneDetServer/logger"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var ErrEmptyFrame = errors.New("lane: empty frame")

// Extractor finds raw line segments in a grayscale region. Coordinates of
// the returned segments are relative to the region's top-left corner.
// frameHeight is the height of the whole frame the region was cut from;
// length thresholds scale with it, not with the region.
type Extractor interface {
	Extract(region *image.Gray, frameHeight int) ([]geometry.LineSegment, error)
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(region *image.Gray, frameHeight int) ([]geometry.LineSegment, error)

func (f ExtractorFunc) Extract(region *image.Gray, frameHeight int) ([]geometry.LineSegment, error) {
	return f(region, frameHeight)
}

// Lanes is the tracker output for one frame, left line first.
type Lanes struct {
	Left  geometry.LineSegment
	Right geometry.LineSegment
}

func (l *Lanes) set(s Side, line geometry.LineSegment) {
	if s == Left {
		l.Left = line
		return
	}
	l.Right = line
}

// Tracker follows the two boundaries of the ego lane across the frames of
// one video stream. It is not safe for concurrent use; run one Tracker per
// stream.
type Tracker struct {
	extractor Extractor
	params    Params
	state     State
	lastROI   image.Rectangle
	log       *zap.Logger
}

func NewTracker(extractor Extractor, params Params) *Tracker {
	t := &Tracker{
		extractor: extractor,
		params:    params,
		log:       logger.Named("lane"),
	}
	t.Reset()
	return t
}

func (t *Tracker) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	t.log = l
}

// Reset starts a new tracking session: both sides are unlocked and their
// miss counters cleared.
func (t *Tracker) Reset() {
	t.state.reset()
	t.lastROI = image.Rectangle{}
}

func (t *Tracker) State() State {
	return t.state
}

func (t *Tracker) Params() Params {
	return t.params
}

// LastROI is the region searched by the most recent Detect call.
func (t *Tracker) LastROI() image.Rectangle {
	return t.lastROI
}

// Detect runs one frame through the tracker and returns both lane lines,
// extended from the top of the search band to the bottom of the frame.
// A side with no line yet is returned as the zero line.
//
// If the extractor fails the error is returned and the state is unchanged.
func (t *Tracker) Detect(frame *image.Gray) (Lanes, error) {
	if frame == nil || frame.Bounds().Empty() {
		return Lanes{}, ErrEmptyFrame
	}
	bounds := frame.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	roi := SelectROI(width, height, t.state, t.params)
	region := crop(frame, roi.Add(bounds.Min))

	segments, err := t.extractor.Extract(region, height)
	if err != nil {
		return Lanes{}, fmt.Errorf("extract segments in %v: %w", roi, err)
	}
	t.lastROI = roi

	sel := Filter(segments, roi.Min, width, t.state, t.params)
	t.logSelection(sel)
	t.state = t.state.Apply(sel)

	var out Lanes
	for _, side := range Sides {
		line := t.state.Sides[side].Line
		if !line.IsZero() {
			// Reset unlocks a side but keeps its line; it is extended too
			if ext, ok := geometry.Extrapolate(line, roi.Min.Y, height); ok {
				line = ext
			}
		}
		out.set(side, line)
	}
	return out, nil
}

func (t *Tracker) logSelection(sel Selection) {
	if !t.log.Core().Enabled(zap.DebugLevel) {
		return
	}
	t.log.Debug("segments filtered", zap.Int("raw", sel.Raw))
	for _, side := range Sides {
		c := sel.Sides[side]
		if c.Found {
			t.log.Debug("candidate accepted",
				zap.Stringer("side", side),
				zap.Float64("angle", c.Angle),
				zap.Ints("line", c.Line.Vec()))
			continue
		}
		t.log.Debug("reusing last line",
			zap.Stringer("side", side),
			zap.Int("misses", t.state.Sides[side].Misses))
	}
}

// crop copies r out of frame into a new image whose origin is (0, 0).
func crop(frame *image.Gray, r image.Rectangle) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, frame, r, draw.Src, nil)
	return dst
}
