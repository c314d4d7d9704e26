package audio

import (
	"fmt"
	"time"
)

// BytesPerSample for 16-bit mono PCM.
const BytesPerSample = 2

// ValidateFrame checks that a raw ingest frame is plausible mono 16-bit PCM:
// non-empty and an even number of bytes. Content cannot be validated further
// without decoding, so this is a framing check only.
func ValidateFrame(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("empty audio frame")
	}
	if len(frame)%BytesPerSample != 0 {
		return fmt.Errorf("audio frame of %d bytes is not 16-bit aligned", len(frame))
	}
	return nil
}

// Duration returns the playable duration of a mono 16-bit PCM payload at
// the given sample rate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 || len(pcm) == 0 {
		return 0
	}
	seconds := float64(len(pcm)) / float64(sampleRate*BytesPerSample)
	return time.Duration(seconds * float64(time.Second))
}

// FrameDuration returns how much source time a raw ingest frame covers.
func FrameDuration(frame []byte, sampleRate int) time.Duration {
	return Duration(frame, sampleRate)
}
