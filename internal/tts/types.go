package tts

import (
	"context"
	"time"
)

// Utterance is one synthesized audio payload and its playable duration.
type Utterance struct {
	// Audio holds raw mono 16-bit PCM samples.
	Audio []byte

	// SampleRate of the PCM payload in Hz.
	SampleRate int

	// Duration is the playable length of the audio. The pacing policy in
	// the target pipelines is derived from it.
	Duration time.Duration
}

// Synthesizer converts text to speech. Implementations must be safe for
// concurrent use across sessions and targets.
type Synthesizer interface {
	// Synthesize produces an utterance for text in the target language.
	Synthesize(ctx context.Context, text, targetLang string) (*Utterance, error)
}
