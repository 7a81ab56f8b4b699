package broadcast

import (
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/goccy/go-json"
)

// DefaultPrimaryLanguage selects the translation copied into the Message field.
const DefaultPrimaryLanguage = "zh-Hans"

// Wire keys added on top of the session fields.
const (
	KeyStatus       = "status"
	KeyTranslations = "translations"
	KeyMessage      = "Message"
	KeyReason       = "reason"
)

// EncodeEvent renders the outbound text message for ev. Session fields come first and the
// event keys override any extension field of the same name.
func EncodeEvent(ev domain.RecognitionEvent, primary string) ([]byte, error) {
	fields := ev.Session.Fields()

	status := ev.Kind.String()
	if ev.Kind == domain.Canceled {
		status = domain.SessionStopped.String()
	}
	translations := ev.Translations
	if translations == nil {
		translations = map[string]string{}
	}

	fields[KeyStatus] = status
	fields[KeyTranslations] = translations
	fields[KeyMessage] = translations[primary]
	if ev.Reason != "" {
		fields[KeyReason] = ev.Reason
	}
	return json.Marshal(fields)
}
