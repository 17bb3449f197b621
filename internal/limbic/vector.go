// Package limbic owns the shared emotional state vector that every
// surface renders from. There is exactly one Store per process; realtime
// channels and the sync manager write to it through Apply, surfaces read
// snapshots and subscribe to change notifications. Surfaces never hold a
// second mutable copy.
package limbic

import "fmt"

// Posture is the categorical behavioral mode attached to the state
// vector. Values match the wire encoding used by the backend.
type Posture string

// Known postures.
const (
	PostureCompanion Posture = "companion"
	PostureCoPilot   Posture = "copilot"
	PosturePeer      Posture = "peer"
	PostureExpert    Posture = "expert"
	PostureSurrogate Posture = "surrogate"
)

// Valid reports whether p is one of the known postures.
func (p Posture) Valid() bool {
	switch p {
	case PostureCompanion, PostureCoPilot, PosturePeer, PostureExpert, PostureSurrogate:
		return true
	}
	return false
}

// ParsePosture converts a wire string to a Posture, rejecting unknown
// values so a typo in a remote payload can't silently change modes.
func ParsePosture(s string) (Posture, error) {
	p := Posture(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown posture %q", s)
	}
	return p, nil
}

// Vector is the shared emotional state. Scalar fields are always in
// [0,1]; Apply clamps after every merge so no reader can observe an
// out-of-range value regardless of what a delta carried.
type Vector struct {
	Trust   float64 `json:"trust"`
	Warmth  float64 `json:"warmth"`
	Arousal float64 `json:"arousal"`
	Valence float64 `json:"valence"`
	Posture Posture `json:"posture"`
}

// Delta is a partial update to the vector. Nil fields are left
// untouched by Apply; present fields win over the current value
// (last-write-per-field, in arrival order).
type Delta struct {
	Trust   *float64 `json:"trust,omitempty"`
	Warmth  *float64 `json:"warmth,omitempty"`
	Arousal *float64 `json:"arousal,omitempty"`
	Valence *float64 `json:"valence,omitempty"`
	Posture *Posture `json:"posture,omitempty"`
}

// IsZero reports whether the delta carries no fields at all.
func (d Delta) IsZero() bool {
	return d.Trust == nil && d.Warmth == nil && d.Arousal == nil &&
		d.Valence == nil && d.Posture == nil
}

// clamp01 pins v to [0,1]. NaN collapses to 0 so a broken payload can
// never poison the vector.
func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// merge applies d to v and returns the clamped result.
func merge(v Vector, d Delta) Vector {
	if d.Trust != nil {
		v.Trust = *d.Trust
	}
	if d.Warmth != nil {
		v.Warmth = *d.Warmth
	}
	if d.Arousal != nil {
		v.Arousal = *d.Arousal
	}
	if d.Valence != nil {
		v.Valence = *d.Valence
	}
	if d.Posture != nil && d.Posture.Valid() {
		v.Posture = *d.Posture
	}

	v.Trust = clamp01(v.Trust)
	v.Warmth = clamp01(v.Warmth)
	v.Arousal = clamp01(v.Arousal)
	v.Valence = clamp01(v.Valence)
	return v
}
