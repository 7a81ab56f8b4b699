// Package codec parses the binary frames clients send over the relay socket.
//
// Layout: a 4-byte big-endian length L, L bytes of a UTF-8 JSON object with session
// metadata, then raw PCM audio up to the end of the message.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/dkeye/VoiceRelay/internal/domain"
)

const headerLen = 4

// Frame is one decoded client message. Metadata is nil when the frame carries no header document.
type Frame struct {
	Metadata json.RawMessage
	Audio    []byte
}

// HasMetadata reports whether the frame carries a session document.
func (f Frame) HasMetadata() bool { return len(f.Metadata) > 0 }

// Decode splits payload into its metadata document and audio. Errors wrap domain.ErrMalformedFrame.
// The returned slices alias payload.
func Decode(payload []byte) (Frame, error) {
	if len(payload) < headerLen {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least %d", domain.ErrMalformedFrame, len(payload), headerLen)
	}
	n := binary.BigEndian.Uint32(payload[:headerLen])
	rest := payload[headerLen:]
	if uint64(n) > uint64(len(rest)) {
		return Frame{}, fmt.Errorf("%w: header length %d exceeds remaining %d bytes", domain.ErrMalformedFrame, n, len(rest))
	}

	f := Frame{Audio: rest[n:]}
	if n == 0 {
		return f, nil
	}
	doc := rest[:n]
	if !isObject(doc) {
		return Frame{}, fmt.Errorf("%w: header is not a JSON object", domain.ErrMalformedFrame)
	}
	f.Metadata = doc
	return f, nil
}

// Encode builds a frame from a metadata value and an audio chunk. meta may be nil,
// a json.RawMessage, or anything go-json can marshal to an object.
func Encode(meta any, audio []byte) ([]byte, error) {
	var doc []byte
	switch m := meta.(type) {
	case nil:
	case json.RawMessage:
		doc = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode frame metadata: %w", err)
		}
		doc = b
	}
	if len(doc) > 0 && !isObject(doc) {
		return nil, fmt.Errorf("%w: metadata is not a JSON object", domain.ErrMalformedFrame)
	}
	if uint64(len(doc)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: metadata too large", domain.ErrMalformedFrame)
	}

	out := make([]byte, headerLen, headerLen+len(doc)+len(audio))
	binary.BigEndian.PutUint32(out, uint32(len(doc)))
	out = append(out, doc...)
	out = append(out, audio...)
	return out, nil
}

func isObject(doc []byte) bool {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' || !utf8.Valid(trimmed) {
		return false
	}
	return json.Valid(trimmed)
}
