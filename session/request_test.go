package session

import (
	"testing"

	iface "LaneDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOpenRequest(t *testing.T) {
	defaults := iface.DefaultEngineConfig()

	t.Run("empty body", func(t *testing.T) {
		req, err := DecodeOpenRequest(nil, defaults)
		require.NoError(t, err)
		assert.Equal(t, defaults, req.Engine())
		assert.Empty(t, req.Description)
	})

	t.Run("partial override", func(t *testing.T) {
		req, err := DecodeOpenRequest([]byte(`{"description":"dash cam","tracker":{"maxLastCounter":7},"extractor":{"votes":30}}`), defaults)
		require.NoError(t, err)
		assert.Equal(t, "dash cam", req.Description)
		assert.Equal(t, 7, req.Tracker.MaxLastCounter)
		assert.Equal(t, defaults.Tracker.AngleMin, req.Tracker.AngleMin)
		assert.Equal(t, 30, req.Extractor.Votes)
		assert.Equal(t, defaults.Extractor.MaxGapDiv, req.Extractor.MaxGapDiv)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := DecodeOpenRequest([]byte(`{"model":"yolo"}`), defaults)
		assert.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeOpenRequest([]byte(`{"tracker":`), defaults)
		assert.Error(t, err)
	})
}
