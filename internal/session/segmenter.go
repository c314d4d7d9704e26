package session

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/stt"
)

// CutReason names the boundary condition that finalized a segment.
type CutReason string

const (
	CutPunctuation CutReason = "punctuation"
	CutSilence     CutReason = "silence"
	CutLength      CutReason = "length"
	CutFlush       CutReason = "flush"
)

// terminalMarks is the fixed terminal-punctuation set, including East Asian
// and Devanagari sentence marks.
var terminalMarks = map[rune]struct{}{
	'.': {}, '?': {}, '!': {}, '…': {},
	'。': {}, '！': {}, '？': {},
	'।': {}, '॥': {},
}

// endsWithTerminal reports whether text ends in a sentence-terminal mark.
func endsWithTerminal(text string) bool {
	runes := []rune(strings.TrimRight(text, " "))
	if len(runes) == 0 {
		return false
	}
	_, ok := terminalMarks[runes[len(runes)-1]]
	return ok
}

// isPurePunctuation reports whether a token consists solely of terminal
// punctuation marks.
func isPurePunctuation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if _, ok := terminalMarks[r]; !ok {
			return false
		}
	}
	return true
}

// SegmenterConfig holds the segmentation thresholds.
type SegmenterConfig struct {
	// SilenceThreshold is the wall time without transcript events after
	// which a non-empty pending buffer is finalized.
	SilenceThreshold time.Duration

	// MaxTokens bounds the pending buffer's token count; run-on speech is
	// cut once the count exceeds it.
	MaxTokens int
}

// Segmenter folds a session's transcript events into finalized segments.
// It is a two-state machine: idle (no pending text) and accumulating; any
// of the three cut conditions (punctuation, silence, length) finalizes the
// pending buffer and returns to idle.
//
// The emit callback must not block: it runs while the segmenter's lock is
// held, from either the feeding task or the silence timer.
type Segmenter struct {
	sessionID string
	cfg       SegmenterConfig
	emit      func(Segment)
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []string
	preview string
	start   time.Duration // source offset of the first pending event
	end     time.Duration // source offset of the last pending event's end
	seq     uint64
	timer   *time.Timer
	closed  bool
}

// NewSegmenter creates a segmenter for one session. Finalized segments are
// handed to emit in sequence order.
func NewSegmenter(sessionID string, cfg SegmenterConfig, emit func(Segment)) *Segmenter {
	return &Segmenter{
		sessionID: sessionID,
		cfg:       cfg,
		emit:      emit,
		logger:    observability.ForSession(sessionID).With().Str("component", "segmenter").Logger(),
	}
}

// Feed consumes one transcript event. PARTIAL events update the live
// preview only; FINAL events accumulate and may trigger a cut.
func (s *Segmenter) Feed(ev stt.TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// The engine's own end-of-utterance hint behaves like a silence
	// boundary: finalize whatever is pending.
	if ev.UtteranceEnd && ev.Text == "" {
		if len(s.pending) > 0 {
			s.cutLocked(CutSilence)
		}
		return
	}

	// Partials count as speech activity: the silence boundary is wall time
	// since the last transcript event of any kind, so a buffer is not cut
	// while interim results are still streaming in.
	if !ev.Final {
		s.preview = ev.Text
		if len(s.pending) > 0 {
			s.resetTimerLocked()
		}
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	// A bare punctuation token closes the current buffer immediately
	// rather than starting a new one.
	if isPurePunctuation(text) {
		if len(s.pending) == 0 {
			return
		}
		s.pending[len(s.pending)-1] += text
		s.end = ev.End()
		s.cutLocked(CutPunctuation)
		return
	}

	if len(s.pending) == 0 {
		s.start = ev.Offset
	}
	s.pending = append(s.pending, text)
	s.end = ev.End()
	s.preview = ""

	switch {
	case endsWithTerminal(text):
		s.cutLocked(CutPunctuation)
	case s.tokenCountLocked() > s.cfg.MaxTokens:
		s.cutLocked(CutLength)
	default:
		s.resetTimerLocked()
	}
}

// Preview returns the live in-progress view: accumulated final text plus
// the most recent partial. For UI display only.
func (s *Segmenter) Preview() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, len(s.pending)+1)
	parts = append(parts, s.pending...)
	if s.preview != "" {
		parts = append(parts, s.preview)
	}
	return strings.Join(parts, " ")
}

// Close flushes any non-empty pending buffer as a final segment and stops
// the silence timer. No segment is emitted after Close returns.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if len(s.pending) > 0 {
		s.cutLocked(CutFlush)
	}
	s.stopTimerLocked()
	s.closed = true
}

func (s *Segmenter) tokenCountLocked() int {
	n := 0
	for _, part := range s.pending {
		n += len(strings.Fields(part))
	}
	return n
}

func (s *Segmenter) cutLocked(reason CutReason) {
	s.stopTimerLocked()

	text := strings.Join(s.pending, " ")
	s.pending = nil
	s.preview = ""
	s.seq++

	seg := Segment{
		SessionID: s.sessionID,
		Seq:       s.seq,
		Text:      text,
		Start:     s.start,
		End:       s.end,
		CreatedAt: time.Now(),
	}

	s.logger.Debug().
		Uint64("seq", seg.Seq).
		Str("reason", string(reason)).
		Str("text", seg.Text).
		Msg("Segment finalized")
	observability.RecordSegment(string(reason))

	s.emit(seg)
}

// resetTimerLocked (re)arms the silence timer. The timer fires only while
// the buffer is non-empty; it is cancelled on every cut and on Close, so no
// timer fires after teardown.
func (s *Segmenter) resetTimerLocked() {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.cfg.SilenceThreshold, s.onSilence)
}

func (s *Segmenter) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Segmenter) onSilence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.pending) == 0 {
		return
	}
	s.cutLocked(CutSilence)
}
