package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/maxhawkins/go-webrtcvad"
)

var ErrUnsupportedFormat = errors.New("unsupported pcm format for vad")

// Classifier decides whether a PCM buffer contains speech.
type Classifier interface {
	DetectSpeech(pcm []byte, f Format) (bool, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(pcm []byte, f Format) (bool, error)

func (fn ClassifierFunc) DetectSpeech(pcm []byte, f Format) (bool, error) { return fn(pcm, f) }

// vadFrame is the WebRTC VAD analysis window. 10ms frames are valid at every supported rate.
const vadFrame = 10 * time.Millisecond

// WebRTCClassifier runs the WebRTC voice activity detector over 10ms frames and reports
// speech as soon as one frame is voiced. Only 16-bit mono input is accepted.
type WebRTCClassifier struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

// NewWebRTCClassifier creates a detector. mode ranges from 0 (least aggressive) to 3.
func NewWebRTCClassifier(mode int) (*WebRTCClassifier, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, err
	}
	return &WebRTCClassifier{vad: vad}, nil
}

func (c *WebRTCClassifier) DetectSpeech(pcm []byte, f Format) (bool, error) {
	if f.BitDepth != 16 || f.Channels != 1 {
		return false, ErrUnsupportedFormat
	}
	frameLen := f.BytesFor(vadFrame)
	if !c.vad.ValidRateAndFrameLength(f.SampleRate, f.Samples(frameLen)) {
		return false, ErrUnsupportedFormat
	}

	// The detector keeps state between frames and is not safe for concurrent use.
	c.mu.Lock()
	defer c.mu.Unlock()
	for off := 0; off+frameLen <= len(pcm); off += frameLen {
		active, err := c.vad.Process(f.SampleRate, pcm[off:off+frameLen])
		if err != nil {
			return false, err
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// EnergyClassifier treats a buffer as speech when the RMS amplitude of any window exceeds
// Threshold (0..1 relative to full scale).
type EnergyClassifier struct {
	Threshold float64
	Window    time.Duration
}

func (c EnergyClassifier) DetectSpeech(pcm []byte, f Format) (bool, error) {
	if f.BitDepth != 16 {
		return false, ErrUnsupportedFormat
	}
	window := c.Window
	if window <= 0 {
		window = 20 * time.Millisecond
	}
	step := f.BytesFor(window)
	if step == 0 {
		step = len(pcm)
	}
	for off := 0; off < len(pcm); off += step {
		end := min(off+step, len(pcm))
		if rms16(pcm[off:end]) > c.Threshold {
			return true, nil
		}
	}
	return false, nil
}

func rms16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
