package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/halcyon-dev/aura-sync/internal/limbic"
)

func TestDecode_LimbicUpdate(t *testing.T) {
	t.Parallel()
	frame := []byte(`{"type":"limbic_update","state":{"trust":0.8,"posture":"expert"}}`)

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	upd, ok := msg.(LimbicUpdate)
	if !ok {
		t.Fatalf("got %T, want LimbicUpdate", msg)
	}
	if upd.State.Trust == nil || *upd.State.Trust != 0.8 {
		t.Errorf("trust = %v, want 0.8", upd.State.Trust)
	}
	if upd.State.Warmth != nil {
		t.Errorf("warmth should be absent, got %v", *upd.State.Warmth)
	}
	if upd.State.Posture == nil || *upd.State.Posture != limbic.PostureExpert {
		t.Errorf("posture = %v, want expert", upd.State.Posture)
	}
}

func TestDecode_Response(t *testing.T) {
	t.Parallel()
	msg, err := Decode([]byte(`{"type":"response","content":"hello there"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r, ok := msg.(Response)
	if !ok {
		t.Fatalf("got %T, want Response", msg)
	}
	if r.Content != "hello there" {
		t.Errorf("content = %q", r.Content)
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	t.Parallel()
	for _, frame := range []string{
		`{`,
		`not json at all`,
		``,
		`[1,2,3]`,
	} {
		_, err := Decode([]byte(frame))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) err = %v, want ErrMalformed", frame, err)
		}
	}
}

func TestDecode_MissingType(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"content":"no type here"}`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecode_BadPayloadShape(t *testing.T) {
	t.Parallel()
	// Known type, wrong payload shape: trust is a string.
	_, err := Decode([]byte(`{"type":"limbic_update","state":{"trust":"high"}}`))
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecode_UnknownTypeSucceeds(t *testing.T) {
	t.Parallel()
	frame := []byte(`{"type":"hologram_mode","intensity":3}`)

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("unknown type must not error: %v", err)
	}
	u, ok := msg.(Unknown)
	if !ok {
		t.Fatalf("got %T, want Unknown", msg)
	}
	if u.Type() != "hologram_mode" {
		t.Errorf("Type() = %q", u.Type())
	}
	if string(u.Raw) != string(frame) {
		t.Errorf("Raw = %s", u.Raw)
	}
}

func TestEncode_IncludesType(t *testing.T) {
	t.Parallel()
	data, err := Encode(Chat{Content: "hi"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("encoded frame is not JSON: %v", err)
	}
	if fields["type"] != "chat" {
		t.Errorf("type = %v, want chat", fields["type"])
	}
	if fields["content"] != "hi" {
		t.Errorf("content = %v, want hi", fields["content"])
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()
	trust := 0.3
	original := LimbicUpdate{State: limbic.Delta{Trust: &trust}}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	upd, ok := msg.(LimbicUpdate)
	if !ok {
		t.Fatalf("got %T, want LimbicUpdate", msg)
	}
	if upd.State.Trust == nil || *upd.State.Trust != trust {
		t.Errorf("trust did not survive the round trip: %v", upd.State.Trust)
	}
}

func TestEncode_TimestampMessages(t *testing.T) {
	t.Parallel()
	for _, m := range []Message{
		NewSession{Timestamp: 1700000000},
		VoiceToggle{Timestamp: 1700000001},
		SyncData{Timestamp: 1700000002},
	} {
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s): %v", m.Type(), err)
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s): %v", m.Type(), err)
		}
		if decoded.Type() != m.Type() {
			t.Errorf("type = %q, want %q", decoded.Type(), m.Type())
		}
	}
}
