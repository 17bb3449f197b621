// Package envelope implements the realtime wire format: one JSON object
// per text frame, tagged by a top-level "type" field with the remaining
// payload fields inline. Unknown types decode into [Unknown] instead of
// erroring so new server-side message types never crash old clients.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/halcyon-dev/aura-sync/internal/limbic"
)

// Wire names for the known message types.
const (
	TypeLimbicUpdate = "limbic_update"
	TypeResponse     = "response"
	TypeGhostTap     = "ghost_tap"
	TypeBadgeUpdate  = "badge_update"
	TypeNewSession   = "new_session"
	TypeVoiceToggle  = "voice_toggle"
	TypeSyncData     = "sync_data"
	TypeExportData   = "export_data"
	TypeChat         = "chat"
)

// ErrMalformed is returned by Decode for frames that are not valid JSON
// or lack a "type" field. Callers drop the frame and log; the error is
// never fatal to the channel.
var ErrMalformed = errors.New("malformed envelope")

// Message is one decoded wire frame. Type returns the wire name used
// for dispatch; for [Unknown] it is the type the server actually sent.
type Message interface {
	Type() string
}

// LimbicUpdate carries a partial state vector pushed by the backend.
type LimbicUpdate struct {
	State limbic.Delta `json:"state"`
}

// Response is a generated reply for display in the chat surface.
type Response struct {
	Content string `json:"content"`
}

// GhostTap is an unprompted, ambient message from the companion.
type GhostTap struct {
	Content string `json:"content"`
}

// BadgeUpdate announces a badge grant. Sent back unchanged as an
// acknowledgment once the surface has shown it.
type BadgeUpdate struct {
	Badge        string `json:"badge"`
	Label        string `json:"label,omitempty"`
	Acknowledged bool   `json:"acknowledged,omitempty"`
}

// NewSession asks the backend to open a fresh conversation session.
type NewSession struct {
	Timestamp int64 `json:"timestamp"`
}

// VoiceToggle flips voice output on the backend.
type VoiceToggle struct {
	Timestamp int64 `json:"timestamp"`
}

// SyncData asks the backend to stage a bulk-sync exchange.
type SyncData struct {
	Timestamp int64 `json:"timestamp"`
}

// ExportData asks the backend to prepare a data export.
type ExportData struct {
	Timestamp int64 `json:"timestamp"`
}

// Chat is a user message sent to the backend.
type Chat struct {
	Content string `json:"content"`
}

// Unknown preserves a frame whose type this client does not know.
// The raw payload is kept so diagnostic logging can show what arrived.
type Unknown struct {
	MessageType string
	Raw         json.RawMessage
}

func (LimbicUpdate) Type() string { return TypeLimbicUpdate }
func (Response) Type() string     { return TypeResponse }
func (GhostTap) Type() string     { return TypeGhostTap }
func (BadgeUpdate) Type() string  { return TypeBadgeUpdate }
func (NewSession) Type() string   { return TypeNewSession }
func (VoiceToggle) Type() string  { return TypeVoiceToggle }
func (SyncData) Type() string     { return TypeSyncData }
func (ExportData) Type() string   { return TypeExportData }
func (Chat) Type() string         { return TypeChat }
func (u Unknown) Type() string    { return u.MessageType }

// Decode parses one raw text frame. Bad JSON and missing "type" return
// an error wrapping ErrMalformed; a well-formed frame with an
// unrecognized type decodes into [Unknown].
func Decode(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformed)
	}

	var (
		msg Message
		err error
	)
	switch head.Type {
	case TypeLimbicUpdate:
		msg, err = decodeAs[LimbicUpdate](data)
	case TypeResponse:
		msg, err = decodeAs[Response](data)
	case TypeGhostTap:
		msg, err = decodeAs[GhostTap](data)
	case TypeBadgeUpdate:
		msg, err = decodeAs[BadgeUpdate](data)
	case TypeNewSession:
		msg, err = decodeAs[NewSession](data)
	case TypeVoiceToggle:
		msg, err = decodeAs[VoiceToggle](data)
	case TypeSyncData:
		msg, err = decodeAs[SyncData](data)
	case TypeExportData:
		msg, err = decodeAs[ExportData](data)
	case TypeChat:
		msg, err = decodeAs[Chat](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		msg = Unknown{MessageType: head.Type, Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, head.Type, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes an outbound message, merging the payload fields
// with the "type" tag. Encoding an [Unknown] replays its raw frame.
func Encode(m Message) ([]byte, error) {
	if u, ok := m.(Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", m.Type()))

	return json.Marshal(fields)
}
