package iface

import (
	"fmt"
	"image"

	"LaneDetServer/geometry"
	"LaneDetServer/lane"
)

type RetData struct {
	Success bool
	Data    any
}

// ExtractorConfig parameterises the Otsu → Canny → HoughLinesP pipeline.
// MinLengthDiv and MaxGapDiv divide the region height.
type ExtractorConfig struct {
	Rho           float64 `yaml:"rho" json:"rho"`
	ThetaDeg      float64 `yaml:"thetaDeg" json:"thetaDeg"`
	Votes         int     `yaml:"votes" json:"votes"`
	MinLengthDiv  int     `yaml:"minLengthDiv" json:"minLengthDiv"`
	MaxGapDiv     int     `yaml:"maxGapDiv" json:"maxGapDiv"`
	CannyLowRatio float64 `yaml:"cannyLowRatio" json:"cannyLowRatio"`
}

func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Rho:           1,
		ThetaDeg:      1,
		Votes:         50,
		MinLengthDiv:  10,
		MaxGapDiv:     4,
		CannyLowRatio: 0.5,
	}
}

func (c ExtractorConfig) Validate() error {
	if c.Rho <= 0 || c.ThetaDeg <= 0 {
		return fmt.Errorf("hough resolution must be positive, got rho=%g theta=%g", c.Rho, c.ThetaDeg)
	}
	if c.Votes <= 0 {
		return fmt.Errorf("hough votes must be positive, got %d", c.Votes)
	}
	if c.MinLengthDiv <= 0 || c.MaxGapDiv <= 0 {
		return fmt.Errorf("length divisors must be positive, got %d/%d", c.MinLengthDiv, c.MaxGapDiv)
	}
	if c.CannyLowRatio <= 0 || c.CannyLowRatio > 1 {
		return fmt.Errorf("cannyLowRatio must be in (0, 1], got %g", c.CannyLowRatio)
	}
	return nil
}

type EngineConfig struct {
	Tracker   lane.Params     `yaml:"tracker" json:"tracker"`
	Extractor ExtractorConfig `yaml:"extractor" json:"extractor"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Tracker:   lane.DefaultParams(),
		Extractor: DefaultExtractorConfig(),
	}
}

func (c EngineConfig) Validate() error {
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if err := c.Extractor.Validate(); err != nil {
		return fmt.Errorf("extractor: %w", err)
	}
	return nil
}

// LaneResult is the Data of a successful RetData.
type LaneResult struct {
	Left   geometry.LineSegment `json:"left"`
	Right  geometry.LineSegment `json:"right"`
	ROI    image.Rectangle      `json:"roi"`
	Locked [2]bool              `json:"locked"`
	Misses [2]int               `json:"misses"`
}

type SideStats struct {
	Locked    bool                 `json:"locked"`
	Misses    int                  `json:"misses"`
	Line      geometry.LineSegment `json:"line"`
	AngleMean float64              `json:"angleMean"`
	AngleStd  float64              `json:"angleStd"`
}

type SessionStats struct {
	ID     string          `json:"id"`
	State  int             `json:"state"`
	Frames uint64          `json:"frames"`
	Errors uint64          `json:"errors"`
	ROI    image.Rectangle `json:"roi"`
	Left   SideStats       `json:"left"`
	Right  SideStats       `json:"right"`
}

type Backend interface {
	Load(cfg EngineConfig) error
	Detect(img *image.Gray) RetData
	Reset()
	Destroy()
	CheckConfig() EngineConfig
	Stats() SessionStats
}
