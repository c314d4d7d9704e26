package stt

import "time"

// TranscriptEvent is one unit of streaming recognizer output for a session.
// Events are transient; the segmenter folds them into segments.
type TranscriptEvent struct {
	// Text is the recognized text span. Empty for bare utterance-end hints.
	Text string

	// Final marks a finalized span; non-final events are interim partials
	// that only update the live preview.
	Final bool

	// Offset is the source-time offset of the span's start. Monotonically
	// increasing within a session.
	Offset time.Duration

	// Duration is the source-time length of the span, when known.
	Duration time.Duration

	// UtteranceEnd is the engine's own end-of-utterance segmentation hint.
	UtteranceEnd bool

	// Confidence is the recognizer confidence (0.0 to 1.0) if available.
	Confidence float64
}

// End returns the source-time offset of the span's end.
func (e TranscriptEvent) End() time.Duration {
	return e.Offset + e.Duration
}

// Client is the interface for streaming speech-to-text clients. One client
// instance serves one session.
type Client interface {
	// Start begins the streaming recognition session.
	Start() error

	// SendAudio forwards a raw audio frame to the engine.
	SendAudio(frame []byte) error

	// Events returns the stream of transcript events. The channel is
	// closed when the client is closed.
	Events() <-chan TranscriptEvent

	// Stop ends the recognition session but keeps the client reusable.
	Stop() error

	// Close releases all resources.
	Close() error
}

// Factory builds a Client for one session. The phrase hints bias
// recognition toward the glossary's proper nouns and technical terms.
type Factory func(sourceLang string, phraseHints []string) Client
