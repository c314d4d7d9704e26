// Package session contains the streaming segmentation, translation, and
// synthesis orchestration pipeline: the segmenter that decides utterance
// boundaries, the per-target pipelines that drive translation and pace
// synthesis, and the manager that owns session lifecycle.
package session

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateActive - session is ingesting and producing chunks.
	StateActive State = iota
	// StateClosing - close requested, pipelines are flushing.
	StateClosing
	// StateClosed - all owned pipelines torn down. Terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Segment is a finalized unit of source-language text produced by the
// segmenter. Immutable once created. Sequence numbers within a session are
// strictly increasing and gapless.
type Segment struct {
	SessionID string
	Seq       uint64
	Text      string
	Start     time.Duration // source-time offset of the first event
	End       time.Duration // source-time offset of the last event's end
	CreatedAt time.Time
}

// SkippedText is the placeholder text carried by skipped marker chunks.
const SkippedText = "[skipped]"

// Chunk is the externally visible unit of translated and synthesized output
// for one (session, target) pair. Immutable. Skipped chunks carry metadata
// only and no audio payload.
type Chunk struct {
	SessionID string
	Target    string
	Seq       uint64
	ID        string // ChunkID(SessionID, Seq); correlates metadata and audio
	Text      string
	Audio     []byte        // whole-utterance WAV; nil when Skipped
	Duration  time.Duration // playable duration of Audio
	Skipped   bool
	Timestamp time.Time
}

// ChunkID derives a chunk identifier from the session id and segment
// sequence number. The derivation is deterministic so any listener can
// correlate a metadata message with its audio payload.
func ChunkID(sessionID string, seq uint64) string {
	return fmt.Sprintf("%s-%d", sessionID, seq)
}

// ChunkMeta is the JSON metadata message sent to listeners ahead of the
// audio payload for the same chunk id.
type ChunkMeta struct {
	SessionID   string  `json:"session_id"`
	ChunkID     string  `json:"chunk_id"`
	Target      string  `json:"target"`
	Text        string  `json:"text"`
	Timestamp   float64 `json:"timestamp"` // unix seconds
	DurationSec float64 `json:"duration_sec"`
	Skipped     bool    `json:"skipped,omitempty"`
}

// Meta builds the metadata message for a chunk.
func (c *Chunk) Meta() ChunkMeta {
	return ChunkMeta{
		SessionID:   c.SessionID,
		ChunkID:     c.ID,
		Target:      c.Target,
		Text:        c.Text,
		Timestamp:   float64(c.Timestamp.UnixNano()) / float64(time.Second),
		DurationSec: c.Duration.Seconds(),
		Skipped:     c.Skipped,
	}
}

// Publisher receives chunks from target pipelines and session lifecycle
// notifications from the manager. The fan-out dispatcher implements it.
type Publisher interface {
	// Publish delivers a chunk to every listener of its (session, target)
	// pair, metadata first, then audio. Must not block pipeline progress
	// on slow listeners.
	Publish(chunk *Chunk)

	// CloseSession notifies and unregisters every listener of a session.
	CloseSession(sessionID string)
}
