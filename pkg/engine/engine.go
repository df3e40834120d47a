// Package engine defines the events that flow from the call platform and the
// detection subsystem into an orchestrated session, and the handler contract
// they are dispatched through.
//
// These types form the lingua franca between the bridge, the commentary
// schedulers, and the orchestrator. They are intentionally minimal — each
// package defines its own domain types, but the cross-cutting event variants
// live here to avoid circular imports.
package engine

import "context"

// TrackKind identifies the media type of a published track.
type TrackKind int

const (
	// TrackAudio is an audio track published into the call.
	TrackAudio TrackKind = 1

	// TrackVideo is a video track published into the call.
	TrackVideo TrackKind = 2
)

// String returns the human-readable name of the track kind.
func (k TrackKind) String() string {
	switch k {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Track describes a media track announced by the call platform.
type Track struct {
	// ID is the platform-assigned track identifier.
	ID string

	// Kind is the media type of the track.
	Kind TrackKind
}

// Object is a single detected object within a video frame.
type Object struct {
	// Label is the detector's class name (e.g. "sports ball").
	Label string

	// Confidence is the detection score (0.0–1.0).
	Confidence float64
}

// Event is the tagged union of everything a session handler can receive.
// Concrete variants are TrackAdded and Detections.
type Event interface {
	isEvent()
}

// TrackAdded signals that the call platform published a new media track.
type TrackAdded struct {
	Track Track
}

// Detections carries one batch of detected objects for a single video frame.
// Batches are ephemeral; they are inspected once and never persisted.
type Detections struct {
	Objects []Object
}

func (TrackAdded) isEvent() {}
func (Detections) isEvent() {}

// Handler receives platform and detection events for one orchestrated session.
//
// Dispatchers must deliver events one at a time: HandleEvent is never invoked
// concurrently, and each call returns before the next begins. Implementations
// rely on this sequential delivery to run their state transitions without
// internal locking; a dispatcher that cannot guarantee it must serialize
// dispatch itself.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}
