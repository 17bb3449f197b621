package limbic

import (
	"math"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestMerge_PartialDelta(t *testing.T) {
	t.Parallel()
	v := Vector{Trust: 0.2, Warmth: 0.4, Arousal: 0.6, Valence: 0.8, Posture: PostureCompanion}

	got := merge(v, Delta{Warmth: f(0.9)})

	if got.Warmth != 0.9 {
		t.Errorf("warmth = %v, want 0.9", got.Warmth)
	}
	if got.Trust != 0.2 || got.Arousal != 0.6 || got.Valence != 0.8 {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if got.Posture != PostureCompanion {
		t.Errorf("posture changed: %v", got.Posture)
	}
}

func TestMerge_ClampsAboveOne(t *testing.T) {
	t.Parallel()
	got := merge(Vector{}, Delta{Trust: f(1.3)})
	if got.Trust != 1.0 {
		t.Errorf("trust = %v, want 1.0 (clamped)", got.Trust)
	}
}

func TestMerge_ClampsBelowZero(t *testing.T) {
	t.Parallel()
	got := merge(Vector{Valence: 0.5}, Delta{Valence: f(-2)})
	if got.Valence != 0.0 {
		t.Errorf("valence = %v, want 0.0 (clamped)", got.Valence)
	}
}

func TestMerge_NaNCollapses(t *testing.T) {
	t.Parallel()
	got := merge(Vector{Trust: 0.7}, Delta{Trust: f(math.NaN())})
	if got.Trust != 0 {
		t.Errorf("trust = %v, want 0 for NaN input", got.Trust)
	}
}

func TestMerge_InvalidPostureIgnored(t *testing.T) {
	t.Parallel()
	bad := Posture("overlord")
	got := merge(Vector{Posture: PosturePeer}, Delta{Posture: &bad})
	if got.Posture != PosturePeer {
		t.Errorf("posture = %v, want peer (invalid value ignored)", got.Posture)
	}
}

func TestParsePosture(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"companion", "copilot", "peer", "expert", "surrogate"} {
		p, err := ParsePosture(s)
		if err != nil {
			t.Errorf("ParsePosture(%q): %v", s, err)
		}
		if string(p) != s {
			t.Errorf("ParsePosture(%q) = %q", s, p)
		}
	}
	if _, err := ParsePosture("Companion"); err == nil {
		t.Error("wire postures are lowercase; mixed case should be rejected")
	}
	if _, err := ParsePosture(""); err == nil {
		t.Error("empty posture should be rejected")
	}
}

func TestDelta_IsZero(t *testing.T) {
	t.Parallel()
	if !(Delta{}).IsZero() {
		t.Error("empty delta should be zero")
	}
	if (Delta{Trust: f(0.5)}).IsZero() {
		t.Error("delta with a field should not be zero")
	}
}
