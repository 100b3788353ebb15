package engine

import (
	"errors"
	"fmt"
	"image"
	"math"

	"LaneDetServer/geometry"
	iface "LaneDetServer/interface"

	"gocv.io/x/gocv"
)

// HoughExtractor finds line segments with Otsu thresholding, Canny edges and
// the probabilistic Hough transform.
type HoughExtractor struct {
	cfg iface.ExtractorConfig
}

func NewHoughExtractor(cfg iface.ExtractorConfig) *HoughExtractor {
	return &HoughExtractor{cfg: cfg}
}

// limits returns the minimum segment length and the maximum gap for a frame
// of the given height. A non-positive height falls back to the region's.
func (h *HoughExtractor) limits(frameHeight, regionHeight int) (minLen, maxGap float32) {
	if frameHeight <= 0 {
		frameHeight = regionHeight
	}
	return float32(frameHeight / h.cfg.MinLengthDiv), float32(frameHeight / h.cfg.MaxGapDiv)
}

func (h *HoughExtractor) Extract(region *image.Gray, frameHeight int) ([]geometry.LineSegment, error) {
	b := region.Bounds()
	if b.Empty() {
		return nil, nil
	}

	gray, err := grayToMat(region)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	bin := gocv.NewMat()
	defer bin.Close()
	otsu := gocv.Threshold(gray, &bin, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, otsu*float32(h.cfg.CannyLowRatio), otsu)

	lines := gocv.NewMat()
	defer lines.Close()
	minLen, maxGap := h.limits(frameHeight, b.Dy())
	gocv.HoughLinesPWithParams(edges, &lines,
		float32(h.cfg.Rho),
		float32(h.cfg.ThetaDeg*math.Pi/180),
		h.cfg.Votes,
		minLen,
		maxGap)

	segments := make([]geometry.LineSegment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		segments = append(segments, geometry.LineSegment{
			X1: int(v[0]), Y1: int(v[1]), X2: int(v[2]), Y2: int(v[3]),
		})
	}
	return segments, nil
}

// grayToMat copies img into a single channel Mat. Sub-images are packed
// first since the Mat expects contiguous rows.
func grayToMat(img *image.Gray) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := img.Pix
	if img.Stride != w || b.Min != (image.Point{}) {
		pix = make([]byte, w*h)
		for y := 0; y < h; y++ {
			off := img.PixOffset(b.Min.X, b.Min.Y+y)
			copy(pix[y*w:(y+1)*w], img.Pix[off:off+w])
		}
	}
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, pix[:w*h])
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap gray region: %w", err)
	}
	return mat, nil
}

var ErrBadImage = errors.New("engine: undecodable image")

// DecodeGray decodes an encoded image (png, jpeg, bmp...) straight to
// grayscale.
func DecodeGray(buf []byte) (*image.Gray, error) {
	mat, err := gocv.IMDecode(buf, gocv.IMReadGrayScale)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("%w: empty or unsupported format", ErrBadImage)
	}
	return MatToGray(mat)
}

// MatToGray converts a Mat to *image.Gray, converting from BGR when needed.
func MatToGray(mat gocv.Mat) (*image.Gray, error) {
	src := mat
	if mat.Channels() != 1 {
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
		src = gray
	}
	img, err := src.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert mat: %w", err)
	}
	g, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("unexpected image type %T", img)
	}
	return g, nil
}
