package lane

import "fmt"

// Params holds the tracking constants. The zero value is not usable; start
// from DefaultParams.
type Params struct {
	AngleMin       float64 `yaml:"angleMin" json:"angleMin"`             // degrees, exclusive
	AngleMax       float64 `yaml:"angleMax" json:"angleMax"`             // degrees, exclusive
	MaxAngleDiff   float64 `yaml:"maxAngleDiff" json:"maxAngleDiff"`     // degrees
	MaxLastCounter int     `yaml:"maxLastCounter" json:"maxLastCounter"` // frames
	ROITopNum      int     `yaml:"roiTopNum" json:"roiTopNum"`
	ROITopDen      int     `yaml:"roiTopDen" json:"roiTopDen"`
	XErrorDiv      int     `yaml:"xErrorDiv" json:"xErrorDiv"`
}

func DefaultParams() Params {
	return Params{
		AngleMin:       20,
		AngleMax:       75,
		MaxAngleDiff:   10,
		MaxLastCounter: 5,
		ROITopNum:      3,
		ROITopDen:      5,
		XErrorDiv:      8,
	}
}

func (p Params) Validate() error {
	if p.AngleMin < 0 || p.AngleMax > 90 || p.AngleMin >= p.AngleMax {
		return fmt.Errorf("angle range must satisfy 0 <= angleMin < angleMax <= 90, got [%g, %g]", p.AngleMin, p.AngleMax)
	}
	if p.MaxAngleDiff <= 0 {
		return fmt.Errorf("maxAngleDiff must be positive, got %g", p.MaxAngleDiff)
	}
	if p.MaxLastCounter <= 0 {
		return fmt.Errorf("maxLastCounter must be positive, got %d", p.MaxLastCounter)
	}
	if p.ROITopDen <= 0 || p.ROITopNum < 0 || p.ROITopNum >= p.ROITopDen {
		return fmt.Errorf("roi top fraction must be in [0, 1), got %d/%d", p.ROITopNum, p.ROITopDen)
	}
	if p.XErrorDiv <= 0 {
		return fmt.Errorf("xErrorDiv must be positive, got %d", p.XErrorDiv)
	}
	return nil
}

// roiTop is the first row searched for lane evidence.
func (p Params) roiTop(height int) int {
	return height * p.ROITopNum / p.ROITopDen
}
