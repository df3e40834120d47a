package bridge

import (
	"fmt"

	"github.com/MrWong99/playcall/pkg/engine"
)

// Wire message type tags.
const (
	msgTrackAdded = "track_added"
	msgDetections = "detections"
	msgSpeech     = "speech"
	msgError      = "error"
)

// inbound is the envelope for client-to-server messages on /ws.
type inbound struct {
	Type    string      `json:"type"`
	Track   *trackWire  `json:"track,omitempty"`
	Objects []objectWire `json:"objects,omitempty"`
}

// trackWire mirrors [engine.Track] on the wire. Kind uses the numeric
// track kinds (1 audio, 2 video).
type trackWire struct {
	ID   string `json:"id"`
	Kind int    `json:"kind"`
}

// objectWire mirrors [engine.Object] on the wire.
type objectWire struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// speechOut is the server-to-client frame carrying synthesised speech.
// Audio is base64-encoded raw PCM.
type speechOut struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// errorOut reports a rejected inbound message back to its sender.
type errorOut struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// toEvent converts a decoded inbound message into an engine event.
func (m inbound) toEvent() (engine.Event, error) {
	switch m.Type {
	case msgTrackAdded:
		if m.Track == nil {
			return nil, fmt.Errorf("bridge: track_added message missing track")
		}
		kind := engine.TrackKind(m.Track.Kind)
		if kind != engine.TrackAudio && kind != engine.TrackVideo {
			return nil, fmt.Errorf("bridge: unknown track kind %d", m.Track.Kind)
		}
		return engine.TrackAdded{Track: engine.Track{ID: m.Track.ID, Kind: kind}}, nil
	case msgDetections:
		objs := make([]engine.Object, len(m.Objects))
		for i, o := range m.Objects {
			objs[i] = engine.Object{Label: o.Label, Confidence: o.Confidence}
		}
		return engine.Detections{Objects: objs}, nil
	default:
		return nil, fmt.Errorf("bridge: unknown message type %q", m.Type)
	}
}
