package engine

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	iface "LaneDetServer/interface"
	"LaneDetServer/lane"
	"LaneDetServer/logger"
	"LaneDetServer/monitor"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// angleWindow is how many accepted angles per side feed Stats.
const angleWindow = 64

var (
	ErrNotRegistered = errors.New("engine: detector not registered")
	ErrNotLoaded     = errors.New("engine: tracker not loaded")
	ErrBusy          = errors.New("engine: detector is busy")
)

// ExtractorFactory builds the segment extractor for a loaded config.
type ExtractorFactory func(cfg iface.ExtractorConfig) lane.Extractor

func houghFactory(cfg iface.ExtractorConfig) lane.Extractor {
	return NewHoughExtractor(cfg)
}

// Detector is one tracking session: a lane.Tracker plus its bookkeeping.
// Frames of one Detector are processed one at a time; a Detect call that
// arrives while another is running fails with ErrBusy.
type Detector struct {
	ID    string
	State int

	mu         sync.Mutex
	cfg        iface.EngineConfig
	tracker    *lane.Tracker
	extractors ExtractorFactory
	frames     uint64
	errors     uint64
	angles     [2][]float64
	log        *zap.Logger
}

func New(id string) *Detector {
	return NewWithExtractor(id, houghFactory)
}

// NewWithExtractor is New with a custom extractor, mostly for tests and
// offline tools.
func NewWithExtractor(id string, factory ExtractorFactory) *Detector {
	return &Detector{
		ID:         id,
		State:      REGISTERED,
		extractors: factory,
		log:        logger.Named("engine").With(zap.String("session", id)),
	}
}

func (d *Detector) Load(cfg iface.EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case UNREGISTERED:
		return ErrNotRegistered
	case BUSY:
		return ErrBusy
	}
	d.cfg = cfg
	d.tracker = lane.NewTracker(d.extractors(cfg.Extractor), cfg.Tracker)
	d.tracker.SetLogger(logger.Named("lane").With(zap.String("session", d.ID)))
	d.angles = [2][]float64{}
	d.State = IDLE
	d.log.Info("tracker loaded",
		zap.Float64("angleMin", cfg.Tracker.AngleMin),
		zap.Float64("angleMax", cfg.Tracker.AngleMax),
		zap.Int("votes", cfg.Extractor.Votes))
	return nil
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Detect runs one frame. On success Data holds an iface.LaneResult, on
// failure an error.
func (d *Detector) Detect(img *image.Gray) iface.RetData {
	if !d.mu.TryLock() {
		return iface.RetData{Success: false, Data: ErrBusy}
	}
	defer d.mu.Unlock()
	switch d.State {
	case UNREGISTERED:
		return iface.RetData{Success: false, Data: ErrNotRegistered}
	case REGISTERED:
		return iface.RetData{Success: false, Data: ErrNotLoaded}
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	start := time.Now()
	lanes, err := d.tracker.Detect(img)
	d.frames++
	if err != nil {
		d.errors++
		monitor.ObserveError()
		d.log.Warn("detect failed", zap.Error(err))
		return iface.RetData{Success: false, Data: err}
	}

	st := d.tracker.State()
	roi := d.tracker.LastROI()
	res := iface.LaneResult{Left: lanes.Left, Right: lanes.Right, ROI: roi}
	for _, side := range lane.Sides {
		s := st.Side(side)
		res.Locked[side] = s.Locked
		res.Misses[side] = s.Misses
		if s.Locked && s.Misses == 0 {
			d.recordAngle(side, s.Angle)
		}
	}
	monitor.ObserveFrame(d.ID, st, roi.Dx(), time.Since(start))
	return iface.RetData{Success: true, Data: res}
}

func (d *Detector) recordAngle(side lane.Side, angle float64) {
	a := append(d.angles[side], angle)
	if len(a) > angleWindow {
		a = a[len(a)-angleWindow:]
	}
	d.angles[side] = a
}

// Reset starts a new tracking session on the same detector.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tracker != nil {
		d.tracker.Reset()
	}
	d.angles = [2][]float64{}
	d.log.Info("tracker reset")
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracker = nil
	d.cfg = iface.EngineConfig{}
	d.angles = [2][]float64{}
	d.State = UNREGISTERED
	monitor.Forget(d.ID)
	d.log.Info("detector destroyed", zap.Uint64("frames", d.frames))
}

func (d *Detector) Stats() iface.SessionStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := iface.SessionStats{
		ID:     d.ID,
		State:  d.State,
		Frames: d.frames,
		Errors: d.errors,
	}
	if d.tracker == nil {
		return out
	}
	out.ROI = d.tracker.LastROI()
	st := d.tracker.State()
	out.Left = d.sideStats(st, lane.Left)
	out.Right = d.sideStats(st, lane.Right)
	return out
}

func (d *Detector) sideStats(st lane.State, side lane.Side) iface.SideStats {
	s := st.Side(side)
	out := iface.SideStats{Locked: s.Locked, Misses: s.Misses, Line: s.Line}
	if n := len(d.angles[side]); n > 0 {
		out.AngleMean = d.angles[side][n-1]
		if n > 1 {
			out.AngleMean, out.AngleStd = stat.MeanStdDev(d.angles[side], nil)
		}
	}
	return out
}

func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	default:
		return fmt.Sprintf("state(%#x)", state)
	}
}
