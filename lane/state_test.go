package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateApply(t *testing.T) {
	var st State
	st = st.Apply(Selection{Sides: [2]Candidate{
		Left: {Found: true, Line: leftSeg, Angle: -45},
	}})

	assert.Equal(t, SideState{Line: leftSeg, Angle: -45, Locked: true}, st.Side(Left))
	assert.False(t, st.Side(Right).Locked)
	assert.Equal(t, 1, st.Side(Right).Misses)

	st = st.Apply(Selection{})
	st = st.Apply(Selection{})
	assert.Equal(t, leftSeg, st.Side(Left).Line)
	assert.Equal(t, 2, st.Side(Left).Misses)
	assert.True(t, st.Side(Left).Locked)
	assert.Equal(t, 3, st.Side(Right).Misses)

	st = st.Apply(Selection{Sides: [2]Candidate{
		Right: {Found: true, Line: rightSeg, Angle: 45},
	}})
	assert.Equal(t, 0, st.Side(Right).Misses)
	assert.Equal(t, 3, st.Side(Left).Misses)
}

func TestStateApplyDoesNotAlias(t *testing.T) {
	before := lockedState(leftSeg, rightSeg)
	after := before.Apply(Selection{})

	assert.Equal(t, 0, before.Sides[Left].Misses)
	assert.Equal(t, 1, after.Sides[Left].Misses)
}

func TestStateReset(t *testing.T) {
	st := lockedState(leftSeg, rightSeg)
	st.Sides[Left].Misses = 7
	st.reset()

	for _, side := range Sides {
		assert.False(t, st.Side(side).Locked, side.String())
		assert.Zero(t, st.Side(side).Misses, side.String())
	}
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "left", Left.String())
	assert.Equal(t, "right", Right.String())
	assert.Equal(t, "unknown", Side(5).String())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"inverted angles", func(p *Params) { p.AngleMin, p.AngleMax = 75, 20 }},
		{"angle above 90", func(p *Params) { p.AngleMax = 91 }},
		{"zero angle diff", func(p *Params) { p.MaxAngleDiff = 0 }},
		{"zero counter", func(p *Params) { p.MaxLastCounter = 0 }},
		{"roi top past bottom", func(p *Params) { p.ROITopNum = 5 }},
		{"zero roi denominator", func(p *Params) { p.ROITopDen = 0 }},
		{"zero x error", func(p *Params) { p.XErrorDiv = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
