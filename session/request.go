package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	iface "LaneDetServer/interface"
	"LaneDetServer/lane"
)

// OpenRequest is the body a client sends to open a session. Fields it
// leaves out keep the server defaults.
type OpenRequest struct {
	Description string                `json:"description"`
	Tracker     lane.Params           `json:"tracker"`
	Extractor   iface.ExtractorConfig `json:"extractor"`
}

func NewOpenRequest(defaults iface.EngineConfig) OpenRequest {
	return OpenRequest{Tracker: defaults.Tracker, Extractor: defaults.Extractor}
}

// DecodeOpenRequest overlays a JSON document on the defaults. Unknown keys
// are rejected. An empty document yields the defaults.
func DecodeOpenRequest(data []byte, defaults iface.EngineConfig) (OpenRequest, error) {
	req := NewOpenRequest(defaults)
	if len(bytes.TrimSpace(data)) == 0 {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode open request: %w", err)
	}
	return req, nil
}

func (o OpenRequest) Engine() iface.EngineConfig {
	return iface.EngineConfig{Tracker: o.Tracker, Extractor: o.Extractor}
}
