package audio

import (
	"fmt"
	"time"
)

// Format describes raw little-endian PCM.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// PCM16kMono is what the recognition engine consumes.
var PCM16kMono = Format{SampleRate: 16000, BitDepth: 16, Channels: 1}

func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 || f.BitDepth <= 0 || f.BitDepth%8 != 0 {
		return fmt.Errorf("invalid pcm format %+v", f)
	}
	return nil
}

// FrameSize is the number of bytes per sample across all channels.
func (f Format) FrameSize() int { return f.BitDepth / 8 * f.Channels }

func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// BytesFor returns the byte length of d worth of audio, rounded down to whole frames.
func (f Format) BytesFor(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.FrameSize()
}

// Samples is the number of samples per channel held in n bytes.
func (f Format) Samples(n int) int { return n / f.FrameSize() }

// Duration is the inverse of BytesFor.
func (f Format) Duration(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(f.BytesPerSecond()))
}
