package stt

import (
	"testing"

	"github.com/vocallabs/translate-gateway/internal/config"
)

func testClientConfig() *config.Config {
	return &config.Config{
		DeepgramAPIKey: "test-key",
		DeepgramModel:  "nova-2",
		SampleRate:     16000,
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	c := NewDeepgramClient(testClientConfig(), "en", nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// An SDK callback can still land after teardown; it must be discarded,
	// not panic on a closed channel.
	c.emit(TranscriptEvent{Text: "late", Final: true})

	if _, ok := <-c.Events(); ok {
		t.Error("events channel should be closed after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewDeepgramClient(testClientConfig(), "en", nil)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSendAudioRequiresActiveStream(t *testing.T) {
	c := NewDeepgramClient(testClientConfig(), "en", nil)

	if err := c.SendAudio([]byte{0x00, 0x01}); err == nil {
		t.Error("SendAudio before Start should fail")
	}
}
