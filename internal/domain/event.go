package domain

import (
	"maps"
	"time"
)

type EventKind int

const (
	Recognizing EventKind = iota
	Recognized
	SessionStopped
	Canceled
)

func (k EventKind) String() string {
	switch k {
	case Recognizing:
		return "recognizing"
	case Recognized:
		return "recognized"
	case SessionStopped:
		return "stopped"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Terminal reports whether the kind ends a recognition stream.
func (k EventKind) Terminal() bool { return k == SessionStopped || k == Canceled }

// RecognitionEvent is a recognition result attributed to the session that produced the audio.
// Build it with NewRecognitionEvent and treat it as read-only afterwards.
type RecognitionEvent struct {
	Kind         EventKind
	Session      SessionInfo
	Translations map[string]string
	Reason       string
	Timestamp    time.Time
}

// NewRecognitionEvent copies session and translations so later mutation by the caller
// cannot leak into the event.
func NewRecognitionEvent(kind EventKind, session SessionInfo, translations map[string]string, reason string) RecognitionEvent {
	return RecognitionEvent{
		Kind:         kind,
		Session:      session.Clone(),
		Translations: maps.Clone(translations),
		Reason:       reason,
		Timestamp:    time.Now(),
	}
}

func (e RecognitionEvent) RoomID() RoomID { return e.Session.RoomID }
