package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/audio"
	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/glossary"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/resilience"
	"github.com/vocallabs/translate-gateway/internal/translate"
	"github.com/vocallabs/translate-gateway/internal/tts"
)

// closeGrace bounds how long Close waits for a pipeline to flush its queue
// before cancelling in-flight work outright.
const closeGrace = 10 * time.Second

// queuedSegment is a queue entry. A skipped entry is a tombstone for a
// segment dropped under overload: it flows through the queue in sequence
// order and publishes a marker chunk without touching the engines.
type queuedSegment struct {
	seg     Segment
	skipped bool
}

// Pipeline turns segments into chunks for one (session, target) pair.
// Processing is strictly FIFO by sequence number and single-flight: a
// segment's translation and synthesis never start while an earlier one is
// still in flight, and a pacing wait derived from the previous chunk's
// playable duration throttles dequeuing so the synthesis engine is never
// asked to speak over itself.
type Pipeline struct {
	sessionID  string
	sourceLang string
	target     string

	translator translate.Translator
	synth      tts.Synthesizer
	gloss      *glossary.Glossary
	pub        Publisher

	queueDepth int
	pacingLead time.Duration
	retryCfg   *resilience.RetryConfig

	logger zerolog.Logger

	mu     sync.Mutex
	queue  []*queuedSegment
	closed bool
	wake   chan struct{}

	// pacing state, owned by the worker goroutine
	expectedEnd  time.Time
	lastDuration time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline creates and starts a target pipeline. It owns one worker
// goroutine for its session's lifetime.
func NewPipeline(cfg *config.Config, sessionID, sourceLang, target string,
	translator translate.Translator, synth tts.Synthesizer,
	gloss *glossary.Glossary, pub Publisher) *Pipeline {

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		sessionID:  sessionID,
		sourceLang: sourceLang,
		target:     target,
		translator: translator,
		synth:      synth,
		gloss:      gloss,
		pub:        pub,
		queueDepth: cfg.PipelineQueueDepth,
		pacingLead: cfg.PacingLead(),
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger: observability.ForTarget(sessionID, target),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go p.run()
	return p
}

// Submit enqueues a segment. Never blocks: if the queue is at its bound,
// the oldest unprocessed segment is turned into a skipped tombstone so
// listeners see a placeholder instead of silent staleness.
func (p *Pipeline) Submit(seg Segment) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	if p.liveCountLocked() >= p.queueDepth {
		for _, q := range p.queue {
			if !q.skipped {
				p.logger.Warn().
					Uint64("seq", q.seg.Seq).
					Msg("Pipeline queue full, dropping oldest unprocessed segment")
				q.skipped = true
				q.seg.Text = ""
				break
			}
		}
	}

	p.queue = append(p.queue, &queuedSegment{seg: seg})
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close stops the pipeline: no new segments are accepted, queued work is
// flushed within a grace period, then any still-pending engine calls are
// cancelled and their results discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	select {
	case <-p.done:
	case <-time.After(closeGrace):
		p.logger.Warn().Msg("Pipeline close grace expired, cancelling in-flight work")
	}
	p.cancel()
}

// liveCountLocked counts queue entries that still carry work.
func (p *Pipeline) liveCountLocked() int {
	n := 0
	for _, q := range p.queue {
		if !q.skipped {
			n++
		}
	}
	return n
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		item := p.next()
		if item == nil {
			return
		}

		if item.skipped {
			p.publishSkipped(item.seg.Seq)
			continue
		}

		// Pacing: do not start this segment's translation+synthesis while
		// the previous chunk's audio is still expected to be playing.
		if !p.waitForPacing() {
			return
		}

		p.process(item.seg)
	}
}

// next blocks until a queue entry is available, the pipeline is closed and
// drained, or the context is cancelled.
func (p *Pipeline) next() *queuedSegment {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			item := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return item
		}
		closed := p.closed
		p.mu.Unlock()

		if closed {
			return nil
		}

		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return nil
		}
	}
}

// waitForPacing sleeps out the pacing interval. Returns false if the
// pipeline was cancelled while waiting.
func (p *Pipeline) waitForPacing() bool {
	lead := p.lastDuration
	if lead > p.pacingLead {
		lead = p.pacingLead
	}
	wait := time.Until(p.expectedEnd) - lead
	if wait <= 0 {
		return true
	}

	p.logger.Debug().Dur("wait", wait).Msg("Pacing synthesis dispatch")
	observability.RecordPacingWait(wait.Seconds())

	select {
	case <-time.After(wait):
		return true
	case <-p.ctx.Done():
		return false
	}
}

// process runs one segment through guard, translation, restore, and
// synthesis, then hands the chunk to the dispatcher. Engine failures after
// retry produce a skipped marker chunk; a segment is never dropped without
// signal.
func (p *Pipeline) process(seg Segment) {
	guarded, placeholders := p.gloss.Protect(seg.Text)

	var translated string
	err := resilience.Retry(p.ctx, func() error {
		var callErr error
		translated, callErr = p.translator.Translate(p.ctx, guarded, p.sourceLang, p.target)
		return callErr
	}, p.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		if p.ctx.Err() != nil {
			return // session closed; result would be discarded anyway
		}
		p.logger.Error().Err(err).Uint64("seq", seg.Seq).Msg("Translation failed, marking segment skipped")
		p.publishSkipped(seg.Seq)
		return
	}

	restored, warnings := glossary.Restore(translated, placeholders)
	for _, w := range warnings {
		p.logger.Warn().Uint64("seq", seg.Seq).Msg(w)
		observability.RecordGlossaryMismatch()
	}

	var utt *tts.Utterance
	err = resilience.Retry(p.ctx, func() error {
		var callErr error
		utt, callErr = p.synth.Synthesize(p.ctx, restored, p.target)
		return callErr
	}, p.retryCfg, resilience.IsRetryableNetworkError)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Uint64("seq", seg.Seq).Msg("Synthesis failed, marking segment skipped")
		p.publishSkipped(seg.Seq)
		return
	}

	now := time.Now()
	chunk := &Chunk{
		SessionID: p.sessionID,
		Target:    p.target,
		Seq:       seg.Seq,
		ID:        ChunkID(p.sessionID, seg.Seq),
		Text:      restored,
		Audio:     audio.EncodeWAV(utt.Audio, utt.SampleRate),
		Duration:  utt.Duration,
		Timestamp: now,
	}

	p.pub.Publish(chunk)
	observability.RecordChunk(false)

	// Pacing state: the chunk's audio is expected to play until now +
	// duration; the next dispatch may lead that end by at most the
	// configured margin.
	p.expectedEnd = now.Add(utt.Duration)
	p.lastDuration = utt.Duration

	p.logger.Info().
		Uint64("seq", seg.Seq).
		Str("chunk_id", chunk.ID).
		Dur("duration", chunk.Duration).
		Msg("Chunk published")
}

func (p *Pipeline) publishSkipped(seq uint64) {
	chunk := &Chunk{
		SessionID: p.sessionID,
		Target:    p.target,
		Seq:       seq,
		ID:        ChunkID(p.sessionID, seq),
		Text:      SkippedText,
		Skipped:   true,
		Timestamp: time.Now(),
	}
	p.pub.Publish(chunk)
	observability.RecordChunk(true)
}
