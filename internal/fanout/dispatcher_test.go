package fanout

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vocallabs/translate-gateway/internal/session"
)

type recordedMessage struct {
	binary  bool
	payload []byte
}

type fakeListener struct {
	mu       sync.Mutex
	messages []recordedMessage
	failText bool
}

func (f *fakeListener) SendText(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText {
		return errors.New("listener gone")
	}
	f.messages = append(f.messages, recordedMessage{binary: false, payload: payload})
	return nil
}

func (f *fakeListener) SendBinary(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, recordedMessage{binary: true, payload: payload})
	return nil
}

func (f *fakeListener) recorded() []recordedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

func testChunk(sessionID, target string, seq uint64, text string, audio []byte) *session.Chunk {
	return &session.Chunk{
		SessionID: sessionID,
		Target:    target,
		Seq:       seq,
		ID:        session.ChunkID(sessionID, seq),
		Text:      text,
		Audio:     audio,
		Duration:  500 * time.Millisecond,
		Timestamp: time.Now(),
	}
}

func TestPublishDeliversMetaThenAudio(t *testing.T) {
	d := NewDispatcher()
	l := &fakeListener{}
	d.Register("sess-1", "hi", l)

	chunk := testChunk("sess-1", "hi", 0, "namaste", []byte{0x52, 0x49, 0x46, 0x46})
	d.Publish(chunk)

	msgs := l.recorded()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].binary {
		t.Error("first message should be text metadata")
	}
	if !msgs[1].binary {
		t.Error("second message should be binary audio")
	}

	var meta session.ChunkMeta
	if err := json.Unmarshal(msgs[0].payload, &meta); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if meta.ChunkID != "sess-1-0" {
		t.Errorf("expected chunk_id sess-1-0, got %q", meta.ChunkID)
	}
	if meta.Target != "hi" {
		t.Errorf("expected target hi, got %q", meta.Target)
	}
	if string(msgs[1].payload) != "RIFF" {
		t.Errorf("unexpected audio payload %q", msgs[1].payload)
	}
}

func TestSkippedChunkCarriesNoAudio(t *testing.T) {
	d := NewDispatcher()
	l := &fakeListener{}
	d.Register("sess-1", "es", l)

	chunk := testChunk("sess-1", "es", 3, session.SkippedText, nil)
	chunk.Skipped = true
	d.Publish(chunk)

	msgs := l.recorded()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	var meta session.ChunkMeta
	if err := json.Unmarshal(msgs[0].payload, &meta); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if !meta.Skipped {
		t.Error("expected skipped flag in metadata")
	}
}

func TestLateJoinerReceivesLastChunk(t *testing.T) {
	d := NewDispatcher()

	d.Publish(testChunk("sess-1", "hi", 0, "one", []byte{1}))
	d.Publish(testChunk("sess-1", "hi", 1, "two", []byte{2}))

	l := &fakeListener{}
	d.Register("sess-1", "hi", l)

	msgs := l.recorded()
	if len(msgs) != 2 {
		t.Fatalf("expected last chunk replay (2 messages), got %d", len(msgs))
	}
	var meta session.ChunkMeta
	if err := json.Unmarshal(msgs[0].payload, &meta); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if meta.Text != "two" {
		t.Errorf("late joiner should see most recent chunk, got %q", meta.Text)
	}
}

func TestFailingListenerDoesNotBlockOthers(t *testing.T) {
	d := NewDispatcher()
	bad := &fakeListener{failText: true}
	good := &fakeListener{}
	d.Register("sess-1", "hi", bad)
	d.Register("sess-1", "hi", good)

	d.Publish(testChunk("sess-1", "hi", 0, "one", []byte{1}))

	if len(good.recorded()) != 2 {
		t.Fatalf("healthy listener should receive both frames, got %d", len(good.recorded()))
	}

	// The failed listener must have been dropped: the next chunk reaches
	// only the healthy one.
	d.Publish(testChunk("sess-1", "hi", 1, "two", []byte{2}))
	if len(bad.recorded()) != 0 {
		t.Errorf("dropped listener should receive nothing, got %d messages", len(bad.recorded()))
	}
	if len(good.recorded()) != 4 {
		t.Errorf("healthy listener should receive 4 messages, got %d", len(good.recorded()))
	}
}

func TestSessionsAndTargetsAreIsolated(t *testing.T) {
	d := NewDispatcher()
	hi := &fakeListener{}
	es := &fakeListener{}
	other := &fakeListener{}
	d.Register("sess-1", "hi", hi)
	d.Register("sess-1", "es", es)
	d.Register("sess-2", "hi", other)

	d.Publish(testChunk("sess-1", "hi", 0, "one", []byte{1}))

	if len(hi.recorded()) != 2 {
		t.Errorf("expected delivery to sess-1/hi, got %d messages", len(hi.recorded()))
	}
	if len(es.recorded()) != 0 {
		t.Errorf("sess-1/es should receive nothing, got %d messages", len(es.recorded()))
	}
	if len(other.recorded()) != 0 {
		t.Errorf("sess-2/hi should receive nothing, got %d messages", len(other.recorded()))
	}
}

func TestCloseSessionNotifiesListeners(t *testing.T) {
	d := NewDispatcher()
	l := &fakeListener{}
	d.Register("sess-1", "hi", l)

	d.CloseSession("sess-1")

	msgs := l.recorded()
	if len(msgs) != 1 {
		t.Fatalf("expected close notice, got %d messages", len(msgs))
	}
	var notice map[string]string
	if err := json.Unmarshal(msgs[0].payload, &notice); err != nil {
		t.Fatalf("close notice is not valid JSON: %v", err)
	}
	if notice["event"] != "session_closed" {
		t.Errorf("expected session_closed event, got %q", notice["event"])
	}

	// Streams are gone; publishing afterwards reaches nobody.
	d.Publish(testChunk("sess-1", "hi", 5, "late", []byte{1}))
	if len(l.recorded()) != 1 {
		t.Errorf("listener should not receive chunks after session close")
	}
}

func TestConcurrentRegisterKeepsPerListenerOrder(t *testing.T) {
	const chunks = 200
	const listeners = 8

	d := NewDispatcher()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := uint64(0); seq < chunks; seq++ {
			d.Publish(testChunk("sess-1", "hi", seq, "tick", []byte{byte(seq)}))
		}
	}()

	// Join mid-stream while publishes are in flight. The replayed last
	// chunk and the live chunks must arrive as one non-decreasing,
	// duplicate-free sequence.
	joined := make([]*fakeListener, listeners)
	for i := range joined {
		joined[i] = &fakeListener{}
		d.Register("sess-1", "hi", joined[i])
		time.Sleep(time.Millisecond)
	}
	<-done

	for i, l := range joined {
		var last int64 = -1
		for _, msg := range l.recorded() {
			if msg.binary {
				continue
			}
			var meta session.ChunkMeta
			if err := json.Unmarshal(msg.payload, &meta); err != nil {
				t.Fatalf("listener %d: bad metadata: %v", i, err)
			}
			var seq int64
			if _, err := fmt.Sscanf(meta.ChunkID, "sess-1-%d", &seq); err != nil {
				t.Fatalf("listener %d: bad chunk id %q", i, meta.ChunkID)
			}
			if seq <= last {
				t.Fatalf("listener %d: chunk %d delivered after %d", i, seq, last)
			}
			last = seq
		}
		if last < 0 {
			t.Errorf("listener %d received no chunks", i)
		}
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	d := NewDispatcher()
	l := &fakeListener{}
	d.Register("sess-1", "hi", l)
	d.Unregister("sess-1", "hi", l)

	d.Publish(testChunk("sess-1", "hi", 0, "one", []byte{1}))
	if len(l.recorded()) != 0 {
		t.Errorf("unregistered listener should receive nothing, got %d", len(l.recorded()))
	}
}
