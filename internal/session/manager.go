package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/glossary"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/stt"
	"github.com/vocallabs/translate-gateway/internal/translate"
	"github.com/vocallabs/translate-gateway/internal/tts"
)

var (
	// ErrUnknownSession is returned when an operation names a session id
	// that is not open.
	ErrUnknownSession = errors.New("unknown session id")

	// ErrSessionExists is returned when opening a session whose id is
	// already in use.
	ErrSessionExists = errors.New("session id already in use")

	// ErrNoTargets is returned when a session is opened without target
	// languages.
	ErrNoTargets = errors.New("session requires at least one target language")
)

// Session owns one live translation run: a segmenter plus one target
// pipeline per requested target language, all scoped to the session's
// lifetime.
type Session struct {
	ID         string
	SourceLang string
	Targets    []string
	CreatedAt  time.Time

	segmenter *Segmenter
	pipelines map[string]*Pipeline
	logger    zerolog.Logger

	mu    sync.Mutex
	state State
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Preview returns the segmenter's live in-progress view.
func (s *Session) Preview() string {
	return s.segmenter.Preview()
}

// ingest feeds one transcript event into the segmenter.
func (s *Session) ingest(ev stt.TranscriptEvent) error {
	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s, not accepting events", s.ID, state)
	}
	s.mu.Unlock()

	s.segmenter.Feed(ev)
	return nil
}

// close flushes the segmenter, drains the pipelines and notifies
// listeners. Idempotent.
func (s *Session) close(pub Publisher) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.logger.Info().Msg("Session closing")

	// Flush pending text first so the final segment still reaches every
	// pipeline, then let each pipeline drain.
	s.segmenter.Close()
	for _, p := range s.pipelines {
		p.Close()
	}
	pub.CloseSession(s.ID)

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	observability.RecordSessionClose()
	s.logger.Info().Msg("Session closed")
}

// Manager owns all live sessions. It implements the orchestration
// contract: OpenSession, Ingest, CloseSession.
type Manager struct {
	cfg        *config.Config
	translator translate.Translator
	synth      tts.Synthesizer
	gloss      *glossary.Glossary
	pub        Publisher
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. The glossary, translator and
// synthesizer are shared read-only across all sessions.
func NewManager(cfg *config.Config, translator translate.Translator, synth tts.Synthesizer,
	gloss *glossary.Glossary, pub Publisher) *Manager {
	return &Manager{
		cfg:        cfg,
		translator: translator,
		synth:      synth,
		gloss:      gloss,
		pub:        pub,
		logger:     observability.GetLogger().With().Str("component", "manager").Logger(),
		sessions:   make(map[string]*Session),
	}
}

// OpenSession instantiates a session with one segmenter and one target
// pipeline per requested target. The target set is fixed for the session's
// lifetime. An empty id is replaced with a generated one.
func (m *Manager) OpenSession(id, sourceLang string, targets []string) (*Session, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	sess := &Session{
		ID:         id,
		SourceLang: sourceLang,
		Targets:    append([]string(nil), targets...),
		CreatedAt:  time.Now(),
		pipelines:  make(map[string]*Pipeline, len(targets)),
		logger:     observability.ForSession(id),
		state:      StateActive,
	}

	for _, target := range sess.Targets {
		sess.pipelines[target] = NewPipeline(
			m.cfg, id, sourceLang, target,
			m.translator, m.synth, m.gloss, m.pub,
		)
	}

	// Every finalized segment fans out to every target pipeline as a copy.
	sess.segmenter = NewSegmenter(id, SegmenterConfig{
		SilenceThreshold: m.cfg.SilenceThreshold(),
		MaxTokens:        m.cfg.MaxSegmentTokens,
	}, func(seg Segment) {
		for _, p := range sess.pipelines {
			p.Submit(seg)
		}
	})

	m.sessions[id] = sess
	observability.RecordSessionOpen()
	sess.logger.Info().
		Str("source_lang", sourceLang).
		Strs("targets", targets).
		Msg("Session opened")

	return sess, nil
}

// Ingest routes a transcript event to its session's segmenter. An unknown
// session id is a reported error, never a crash.
func (m *Manager) Ingest(sessionID string, ev stt.TranscriptEvent) error {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess.ingest(ev)
}

// Get returns the session with the given id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// CloseSession tears down a session: the segmenter's pending buffer is
// flushed, every target pipeline stops accepting segments and drains, and
// all listeners are notified.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	sess.close(m.pub)
	return nil
}

// Shutdown closes every live session, used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close(m.pub)
	}
}
