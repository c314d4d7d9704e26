package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("TRANSLATOR_KEY", "test-translator-key")
	t.Setenv("SPEECH_KEY", "test-speech-key")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.TranslatorKey != "test-translator-key" {
		t.Errorf("Expected TranslatorKey 'test-translator-key', got '%s'", cfg.TranslatorKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("TRANSLATOR_KEY")
	os.Unsetenv("SPEECH_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("Expected default SampleRate 16000, got %d", cfg.SampleRate)
	}
	if cfg.SilenceThreshold() != 700*time.Millisecond {
		t.Errorf("Expected default silence threshold 700ms, got %v", cfg.SilenceThreshold())
	}
	if cfg.MaxSegmentTokens != 18 {
		t.Errorf("Expected default MaxSegmentTokens 18, got %d", cfg.MaxSegmentTokens)
	}
	if cfg.PacingLead() != 1500*time.Millisecond {
		t.Errorf("Expected default pacing lead 1500ms, got %v", cfg.PacingLead())
	}
	if cfg.RetryMaxAttempts != 2 {
		t.Errorf("Expected default RetryMaxAttempts 2, got %d", cfg.RetryMaxAttempts)
	}
}

func TestLoad_InvalidThresholds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SILENCE_THRESHOLD_MS", "0")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for zero silence threshold")
	}
}

func TestVoiceFor(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOICE_MAP", "hi-IN:hi-IN-KavyaNeural,es-ES:es-ES-ElviraNeural")
	t.Setenv("DEFAULT_VOICE", "en-US-JennyNeural")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if got := cfg.VoiceFor("es-ES"); got != "es-ES-ElviraNeural" {
		t.Errorf("VoiceFor(es-ES) = %q, want es-ES-ElviraNeural", got)
	}
	if got := cfg.VoiceFor("fr-FR"); got != "en-US-JennyNeural" {
		t.Errorf("VoiceFor(fr-FR) = %q, want default voice", got)
	}
}
