// Package domain contains entities without transport logic, just meta-data
package domain

import (
	"fmt"

	"github.com/goccy/go-json"
)

const (
	DefaultAppID = "Default_AppId"
	DefaultFrom  = "default_user"
)

// Reserved wire keys of a session document.
const (
	KeyAppID  = "AppId"
	KeyRoomID = "RoomId"
	KeyFrom   = "From"
	KeyBinary = "Binary"
)

// SessionInfo is the metadata a client attaches to its audio frames.
// Values are copied on every hand-off; an instance is never shared between connections.
type SessionInfo struct {
	AppID  string
	RoomID RoomID
	From   string
	Binary bool

	// Extra keeps fields the relay does not interpret. They are echoed in outbound messages.
	Extra map[string]json.RawMessage
}

// NewSessionInfo returns the session a connection starts with. RoomID is empty: the
// connection receives nothing until it names a room.
func NewSessionInfo() SessionInfo {
	return SessionInfo{AppID: DefaultAppID, From: DefaultFrom}
}

// Clone returns a copy that shares no memory with s.
func (s SessionInfo) Clone() SessionInfo {
	if s.Extra == nil {
		return s
	}
	extra := make(map[string]json.RawMessage, len(s.Extra))
	for k, v := range s.Extra {
		extra[k] = append(json.RawMessage(nil), v...)
	}
	s.Extra = extra
	return s
}

// Merge applies doc as a shallow merge-patch and returns the merged copy; s is not modified.
// Fields present in doc overwrite and absent fields persist. A null value clears a reserved
// field and removes an extension field.
// The patch is all-or-nothing: any type error rejects the whole document.
func (s SessionInfo) Merge(doc []byte) (SessionInfo, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalidSessionPatch, err)
	}
	if fields == nil {
		return s, fmt.Errorf("%w: document is not an object", ErrInvalidSessionPatch)
	}

	out := s.Clone()
	for key, raw := range fields {
		var err error
		switch key {
		case KeyAppID:
			var v string
			err = json.Unmarshal(raw, &v)
			out.AppID = v
		case KeyFrom:
			var v string
			err = json.Unmarshal(raw, &v)
			out.From = v
		case KeyBinary:
			var b bool
			err = json.Unmarshal(raw, &b)
			out.Binary = b
		case KeyRoomID:
			var room string
			err = json.Unmarshal(raw, &room)
			out.RoomID = RoomID(room)
		default:
			if string(raw) == "null" {
				delete(out.Extra, key)
				continue
			}
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = append(json.RawMessage(nil), raw...)
		}
		if err != nil {
			return s, fmt.Errorf("%w: field %q: %v", ErrInvalidSessionPatch, key, err)
		}
	}
	return out, nil
}

// Fields flattens the session into wire fields. Reserved keys always win over extension fields.
func (s SessionInfo) Fields() map[string]any {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[KeyAppID] = s.AppID
	out[KeyRoomID] = string(s.RoomID)
	out[KeyFrom] = s.From
	out[KeyBinary] = s.Binary
	return out
}

// MarshalJSON encodes the session the way clients send it.
func (s SessionInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Fields())
}
