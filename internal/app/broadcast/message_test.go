package broadcast

import (
	"testing"

	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent(t *testing.T) {
	s, err := domain.NewSessionInfo().Merge([]byte(`{"RoomId":"R1","From":"alice","lang":"en","status":"spoofed"}`))
	require.NoError(t, err)
	ev := domain.NewRecognitionEvent(domain.Recognized, s, map[string]string{"en": "hello", "zh-Hans": "你好"}, "")

	b, err := EncodeEvent(ev, DefaultPrimaryLanguage)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"AppId":"Default_AppId","RoomId":"R1","From":"alice","Binary":false,"lang":"en",
		"status":"recognized","translations":{"en":"hello","zh-Hans":"你好"},"Message":"你好"
	}`, string(b))
}

func TestEncodeEvent_CanceledIsStopped(t *testing.T) {
	s := domain.NewSessionInfo()
	s.RoomID = "R1"
	ev := domain.NewRecognitionEvent(domain.Canceled, s, nil, "quota exceeded")

	b, err := EncodeEvent(ev, DefaultPrimaryLanguage)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "stopped", got[KeyStatus])
	assert.Equal(t, "quota exceeded", got[KeyReason])
	assert.Equal(t, "", got[KeyMessage])
	assert.Equal(t, map[string]any{}, got[KeyTranslations])
}
