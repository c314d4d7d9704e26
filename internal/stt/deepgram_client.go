package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage      func(*msginterfaces.MessageResponse)
	onUtteranceEnd func(*msginterfaces.UtteranceEndResponse)
	onError        func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(resp *msginterfaces.UtteranceEndResponse) error {
	if m.onUtteranceEnd != nil {
		m.onUtteranceEnd(resp)
	}
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.onError != nil {
		return m.onError(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client using Deepgram's streaming API.
type DeepgramClient struct {
	cfg         *config.Config
	sourceLang  string
	phraseHints []string
	logger      zerolog.Logger

	client *listenClient.WSCallback
	events chan TranscriptEvent

	mu       sync.RWMutex
	isActive bool
	closed   bool // events channel closed; no further emits

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDeepgramClient creates a streaming recognizer for one session. The
// phrase hints are sent as keywords so the engine favors glossary terms.
func NewDeepgramClient(cfg *config.Config, sourceLang string, phraseHints []string) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeepgramClient{
		cfg:         cfg,
		sourceLang:  sourceLang,
		phraseHints: phraseHints,
		logger:      observability.GetLogger().With().Str("component", "stt").Logger(),
		events:      make(chan TranscriptEvent, 100),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// NewFactory returns a Factory producing Deepgram clients bound to cfg.
func NewFactory(cfg *config.Config) Factory {
	return func(sourceLang string, phraseHints []string) Client {
		return NewDeepgramClient(cfg, sourceLang, phraseHints)
	}
}

// Start begins the streaming recognition session.
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.sourceLang,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.cfg.SampleRate,
		Keywords:       d.phraseHints,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onUtteranceEnd: func(_ *msginterfaces.UtteranceEndResponse) {
			d.emit(TranscriptEvent{UtteranceEnd: true})
		},
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().
				Str("description", errorResponse.Description).
				Msg("Recognizer stream error")

			select {
			case <-d.ctx.Done():
				return nil
			default:
			}

			// Connection lost; mark inactive and reconnect in background.
			d.mu.Lock()
			d.isActive = false
			d.mu.Unlock()
			go d.attemptReconnect()
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.cfg.DeepgramAPIKey,
		nil, // client options: defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.logger.Info().
		Str("model", d.cfg.DeepgramModel).
		Str("language", d.sourceLang).
		Int("phrase_hints", len(d.phraseHints)).
		Msg("Recognizer stream started")
	return nil
}

func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		start := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			start = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - start
		}

		d.emit(TranscriptEvent{
			Text:       alt.Transcript,
			Final:      msg.IsFinal,
			Offset:     time.Duration(start * float64(time.Second)),
			Duration:   time.Duration(duration * float64(time.Second)),
			Confidence: alt.Confidence,
		})

	case "SpeechStarted", "Metadata":
		// No transcript content.

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Unhandled recognizer message type")
	}
}

// emit forwards one event without blocking. SDK callbacks can race Close,
// so the send is guarded by the same lock that closes the channel.
func (d *DeepgramClient) emit(ev TranscriptEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Msg("Transcript event channel full, dropping event")
	}
}

// SendAudio forwards a raw PCM frame to the engine.
func (d *DeepgramClient) SendAudio(frame []byte) error {
	d.mu.RLock()
	active := d.isActive
	client := d.client
	d.mu.RUnlock()

	if !active || client == nil {
		return fmt.Errorf("deepgram client is not active")
	}

	if _, err := client.Write(frame); err != nil {
		go d.attemptReconnect()
		return fmt.Errorf("failed to send audio to deepgram: %w", err)
	}
	return nil
}

func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	err := resilience.Reconnect(d.ctx, d.Start, &resilience.ReconnectConfig{
		MaxAttempts: d.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	})
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect recognizer stream")
	} else {
		d.logger.Info().Msg("Recognizer stream reconnected")
	}
}

// Events returns the stream of transcript events.
func (d *DeepgramClient) Events() <-chan TranscriptEvent {
	return d.events
}

// Stop ends the recognition session.
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Recognizer stream stopped")
	return nil
}

// Close stops the session and releases resources.
func (d *DeepgramClient) Close() error {
	d.cancel() // stops any reconnection attempts

	if err := d.Stop(); err != nil {
		return err
	}

	// Closing under the write lock excludes in-flight emits, so a late
	// callback sees the closed flag instead of a closed channel.
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	return nil
}
