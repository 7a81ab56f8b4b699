package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionInfo_Defaults(t *testing.T) {
	s := NewSessionInfo()
	assert.Equal(t, DefaultAppID, s.AppID)
	assert.Equal(t, DefaultFrom, s.From)
	assert.False(t, s.Binary)
	assert.False(t, s.RoomID.Routed())
}

func TestSessionInfo_MergeOverwritesAndPersists(t *testing.T) {
	s := NewSessionInfo()

	s, err := s.Merge([]byte(`{"RoomId":"R1","From":"alice","lang":"en"}`))
	require.NoError(t, err)
	assert.Equal(t, RoomID("R1"), s.RoomID)
	assert.Equal(t, "alice", s.From)
	assert.Equal(t, DefaultAppID, s.AppID)
	assert.JSONEq(t, `"en"`, string(s.Extra["lang"]))

	s, err = s.Merge([]byte(`{"Binary":true}`))
	require.NoError(t, err)
	assert.True(t, s.Binary)
	assert.Equal(t, RoomID("R1"), s.RoomID)
	assert.Equal(t, "alice", s.From)
	assert.JSONEq(t, `"en"`, string(s.Extra["lang"]))
}

func TestSessionInfo_MergeNull(t *testing.T) {
	s, err := NewSessionInfo().Merge([]byte(`{"RoomId":"R1","lang":"en"}`))
	require.NoError(t, err)

	s, err = s.Merge([]byte(`{"RoomId":null,"lang":null}`))
	require.NoError(t, err)
	assert.False(t, s.RoomID.Routed())
	_, ok := s.Extra["lang"]
	assert.False(t, ok)
}

func TestSessionInfo_MergeInvalidKeepsState(t *testing.T) {
	orig, err := NewSessionInfo().Merge([]byte(`{"RoomId":"R1"}`))
	require.NoError(t, err)

	cases := map[string]string{
		"not json":     `{"RoomId":`,
		"array":        `["R2"]`,
		"null":         `null`,
		"wrong type":   `{"RoomId":"R2","Binary":"yes"}`,
		"number room":  `{"RoomId":7}`,
		"scalar value": `"R2"`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := orig.Merge([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSessionPatch))
			assert.Equal(t, orig, got)
		})
	}
}

func TestSessionInfo_CloneIsIndependent(t *testing.T) {
	s, err := NewSessionInfo().Merge([]byte(`{"meta":{"a":1}}`))
	require.NoError(t, err)

	c := s.Clone()
	c.Extra["meta"][0] = '['
	c.Extra["other"] = []byte(`1`)

	assert.JSONEq(t, `{"a":1}`, string(s.Extra["meta"]))
	_, ok := s.Extra["other"]
	assert.False(t, ok)
}

func TestSessionInfo_FieldsReservedKeysWin(t *testing.T) {
	s := NewSessionInfo()
	s, err := s.Merge([]byte(`{"RoomId":"R1","status":"x"}`))
	require.NoError(t, err)
	s.Extra["From"] = []byte(`"spoofed"`)

	f := s.Fields()
	assert.Equal(t, DefaultFrom, f[KeyFrom])
	assert.Equal(t, "R1", f[KeyRoomID])
}

func TestRecognitionEvent_CopiesInputs(t *testing.T) {
	s, err := NewSessionInfo().Merge([]byte(`{"RoomId":"R1"}`))
	require.NoError(t, err)
	tr := map[string]string{"en": "hello"}

	ev := NewRecognitionEvent(Recognized, s, tr, "")
	s.RoomID = "R2"
	tr["en"] = "changed"

	assert.Equal(t, RoomID("R1"), ev.RoomID())
	assert.Equal(t, "hello", ev.Translations["en"])
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, "recognized", ev.Kind.String())
}
