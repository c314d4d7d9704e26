package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/glossary"
	"github.com/vocallabs/translate-gateway/internal/tts"
)

type chunkCollector struct {
	mu     sync.Mutex
	chunks []*Chunk
	closed []string
}

func (c *chunkCollector) Publish(chunk *Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *chunkCollector) CloseSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, sessionID)
}

func (c *chunkCollector) all() []*Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Chunk, len(c.chunks))
	copy(out, c.chunks)
	return out
}

func (c *chunkCollector) waitFor(t *testing.T, n int, timeout time.Duration) []*Chunk {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if chunks := c.all(); len(chunks) >= n {
			return chunks
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d chunks, have %d", n, len(c.all()))
	return nil
}

// stubTranslator applies a recognizable transform so tests can assert the
// translated text flowed through. A non-nil gate blocks each call until
// the gate channel yields.
type stubTranslator struct {
	mu    sync.Mutex
	calls []string
	fail  int // fail this many calls before succeeding
	gate  chan struct{}
}

func (s *stubTranslator) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, text)
	shouldFail := s.fail > 0
	if shouldFail {
		s.fail--
	}
	s.mu.Unlock()

	if shouldFail {
		return "", errors.New("engine unavailable: status 503")
	}
	return "[" + targetLang + "] " + text, nil
}

func (s *stubTranslator) callTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

type stubSynth struct {
	duration time.Duration
	fail     int
	mu       sync.Mutex
	calls    []string
}

func (s *stubSynth) Synthesize(ctx context.Context, text, targetLang string) (*tts.Utterance, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	shouldFail := s.fail > 0
	if shouldFail {
		s.fail--
	}
	s.mu.Unlock()

	if shouldFail {
		return nil, errors.New("engine unavailable: status 503")
	}
	d := s.duration
	if d == 0 {
		d = 50 * time.Millisecond
	}
	samples := int(d.Seconds() * 16000)
	return &tts.Utterance{
		Audio:      make([]byte, samples*2),
		SampleRate: 16000,
		Duration:   d,
	}, nil
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		PipelineQueueDepth:  16,
		PacingLeadMs:        1500,
		RetryMaxAttempts:    2,
		RetryInitialBackoff: 1,
	}
}

func testSegment(seq uint64, text string) Segment {
	return Segment{
		SessionID: "sess-1",
		Seq:       seq,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func TestPipelineProducesChunkPerSegment(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{}
	sy := &stubSynth{}
	p := NewPipeline(testPipelineConfig(), "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	p.Submit(testSegment(1, "Hello there."))
	chunks := pub.waitFor(t, 1, 2*time.Second)

	c := chunks[0]
	if c.ID != "sess-1-1" {
		t.Errorf("unexpected chunk id %q", c.ID)
	}
	if c.Target != "hi" {
		t.Errorf("unexpected target %q", c.Target)
	}
	if c.Text != "[hi] Hello there." {
		t.Errorf("unexpected chunk text %q", c.Text)
	}
	if c.Skipped {
		t.Error("chunk should not be skipped")
	}
	if len(c.Audio) < 44 {
		t.Errorf("expected WAV payload, got %d bytes", len(c.Audio))
	}
	if string(c.Audio[:4]) != "RIFF" {
		t.Error("audio payload is not a WAV container")
	}
}

func TestPipelineDeliversInOrder(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{}
	sy := &stubSynth{duration: time.Millisecond}
	cfg := testPipelineConfig()
	cfg.PacingLeadMs = 10000 // lead always covers the stub duration, no pacing waits
	p := NewPipeline(cfg, "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	const n = 8
	for i := 1; i <= n; i++ {
		p.Submit(testSegment(uint64(i), fmt.Sprintf("segment %d.", i)))
	}

	chunks := pub.waitFor(t, n, 5*time.Second)
	for i, c := range chunks[:n] {
		if c.Seq != uint64(i+1) {
			t.Fatalf("chunk %d out of order: seq %d", i, c.Seq)
		}
	}
}

func TestPipelinePacingDelaysNextDispatch(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{}
	sy := &stubSynth{duration: 300 * time.Millisecond}
	cfg := testPipelineConfig()
	cfg.PacingLeadMs = 50
	p := NewPipeline(cfg, "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	p.Submit(testSegment(1, "first."))
	p.Submit(testSegment(2, "second."))

	chunks := pub.waitFor(t, 2, 5*time.Second)
	gap := chunks[1].Timestamp.Sub(chunks[0].Timestamp)

	// The second dispatch must wait for roughly duration - lead
	// (300ms - 50ms), minus scheduling slack.
	if gap < 150*time.Millisecond {
		t.Errorf("expected pacing gap of ~250ms, got %v", gap)
	}
}

func TestPipelineOverflowMarksOldestSkipped(t *testing.T) {
	pub := &chunkCollector{}
	gate := make(chan struct{})
	tr := &stubTranslator{gate: gate}
	sy := &stubSynth{duration: time.Millisecond}
	cfg := testPipelineConfig()
	cfg.PipelineQueueDepth = 2
	cfg.PacingLeadMs = 10000
	p := NewPipeline(cfg, "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	// First segment is picked up by the worker and parks on the gate.
	p.Submit(testSegment(1, "one."))
	time.Sleep(50 * time.Millisecond)

	// With depth 2, submitting four more drops the two oldest queued ones.
	for i := 2; i <= 5; i++ {
		p.Submit(testSegment(uint64(i), fmt.Sprintf("segment %d.", i)))
	}

	// Release all in-flight and queued work.
	close(gate)

	chunks := pub.waitFor(t, 5, 5*time.Second)
	skipped := map[uint64]bool{}
	for i, c := range chunks[:5] {
		if c.Seq != uint64(i+1) {
			t.Fatalf("chunk %d out of order: seq %d", i, c.Seq)
		}
		if c.Skipped {
			skipped[c.Seq] = true
			if c.Text != SkippedText {
				t.Errorf("skipped chunk text %q", c.Text)
			}
			if len(c.Audio) != 0 {
				t.Error("skipped chunk must carry no audio")
			}
		}
	}
	if !skipped[2] || !skipped[3] {
		t.Errorf("expected seqs 2 and 3 skipped, got %v", skipped)
	}
	if len(skipped) != 2 {
		t.Errorf("expected exactly 2 skipped chunks, got %d", len(skipped))
	}
}

func TestPipelineRetriesThenSkipsOnPersistentFailure(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{fail: 10}
	sy := &stubSynth{}
	p := NewPipeline(testPipelineConfig(), "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	p.Submit(testSegment(1, "doomed."))
	chunks := pub.waitFor(t, 1, 5*time.Second)

	if !chunks[0].Skipped {
		t.Fatal("persistent engine failure must yield a skipped marker")
	}
	if got := len(tr.callTexts()); got != 2 {
		t.Errorf("expected 2 attempts (one retry), got %d", got)
	}
}

func TestPipelineRecoversAfterTransientFailure(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{fail: 1}
	sy := &stubSynth{}
	p := NewPipeline(testPipelineConfig(), "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	p.Submit(testSegment(1, "flaky."))
	chunks := pub.waitFor(t, 1, 5*time.Second)

	if chunks[0].Skipped {
		t.Fatal("a single transient failure should be retried, not skipped")
	}
	if chunks[0].Text != "[hi] flaky." {
		t.Errorf("unexpected chunk text %q", chunks[0].Text)
	}
}

func TestPipelineSynthesisFailureYieldsSkipped(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{}
	sy := &stubSynth{fail: 10}
	p := NewPipeline(testPipelineConfig(), "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)
	defer p.Close()

	p.Submit(testSegment(1, "unsingable."))
	chunks := pub.waitFor(t, 1, 5*time.Second)

	if !chunks[0].Skipped {
		t.Fatal("synthesis failure must yield a skipped marker")
	}
}

func TestPipelineGuardsGlossaryTermsAroundTranslation(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{}
	sy := &stubSynth{}
	gloss := glossary.New([]string{"Kubernetes"})
	p := NewPipeline(testPipelineConfig(), "sess-1", "en", "hi", tr, sy, gloss, pub)
	defer p.Close()

	p.Submit(testSegment(1, "Deploy Kubernetes today."))
	chunks := pub.waitFor(t, 1, 2*time.Second)

	// The engine saw a placeholder, never the protected term.
	calls := tr.callTexts()
	if len(calls) != 1 {
		t.Fatalf("expected 1 translate call, got %d", len(calls))
	}
	if strings.Contains(calls[0], "Kubernetes") {
		t.Errorf("glossary term leaked to the engine: %q", calls[0])
	}
	if !strings.Contains(calls[0], "__GLOSSARY_0__") {
		t.Errorf("expected placeholder in engine input, got %q", calls[0])
	}

	// The published text has the term restored verbatim.
	if !strings.Contains(chunks[0].Text, "Kubernetes") {
		t.Errorf("glossary term not restored: %q", chunks[0].Text)
	}
	if strings.Contains(chunks[0].Text, "__GLOSSARY_") {
		t.Errorf("placeholder leaked to listeners: %q", chunks[0].Text)
	}
}

func TestPipelineCloseDrainsQueue(t *testing.T) {
	pub := &chunkCollector{}
	tr := &stubTranslator{}
	sy := &stubSynth{duration: time.Millisecond}
	cfg := testPipelineConfig()
	cfg.PacingLeadMs = 10000
	p := NewPipeline(cfg, "sess-1", "en", "hi", tr, sy, glossary.Empty(), pub)

	for i := 1; i <= 4; i++ {
		p.Submit(testSegment(uint64(i), fmt.Sprintf("segment %d.", i)))
	}
	p.Close()

	if got := len(pub.all()); got != 4 {
		t.Errorf("close should drain the queue, got %d of 4 chunks", got)
	}

	// Submissions after close are rejected silently.
	p.Submit(testSegment(5, "too late."))
	time.Sleep(50 * time.Millisecond)
	if got := len(pub.all()); got != 4 {
		t.Errorf("submissions after close must be dropped, got %d chunks", got)
	}
}
