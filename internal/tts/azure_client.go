package tts

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vocallabs/translate-gateway/internal/audio"
	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/resilience"
)

// outputFormats maps supported PCM sample rates to the engine's raw output
// format names.
var outputFormats = map[int]string{
	8000:  "raw-8khz-16bit-mono-pcm",
	16000: "raw-16khz-16bit-mono-pcm",
	24000: "raw-24khz-16bit-mono-pcm",
	48000: "raw-48khz-16bit-mono-pcm",
}

// AzureClient implements Synthesizer against the Azure Cognitive Speech
// REST API, producing whole-utterance raw PCM.
type AzureClient struct {
	cfg        *config.Config
	endpoint   string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

// NewAzureClient creates a synthesis engine client.
func NewAzureClient(cfg *config.Config) (*AzureClient, error) {
	if _, ok := outputFormats[cfg.SampleRate]; !ok {
		return nil, fmt.Errorf("unsupported synthesis sample rate: %d", cfg.SampleRate)
	}
	return &AzureClient{
		cfg:      cfg,
		endpoint: fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.SpeechRegion),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.EngineTimeout) * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(
			"synthesizer",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}, nil
}

// Synthesize produces a whole-utterance PCM payload for text in the target
// language, using the voice configured for that target.
func (c *AzureClient) Synthesize(ctx context.Context, text, targetLang string) (*Utterance, error) {
	var utt *Utterance
	start := time.Now()

	err := c.breaker.Call(func() error {
		var callErr error
		utt, callErr = c.doSynthesize(ctx, text, targetLang)
		return callErr
	})

	observability.RecordEngineRequest("tts", time.Since(start).Seconds(), err)
	observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.GetState()))
	return utt, err
}

func (c *AzureClient) doSynthesize(ctx context.Context, text, targetLang string) (*Utterance, error) {
	voice := c.cfg.VoiceFor(targetLang)
	ssml := buildSSML(text, voice, c.cfg.SpeechRate)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SpeechKey)
	req.Header.Set("X-Microsoft-OutputFormat", outputFormats[c.cfg.SampleRate])

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesizer returned status %d: %s", resp.StatusCode, payload)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("synthesizer returned empty audio")
	}

	return &Utterance{
		Audio:      pcm,
		SampleRate: c.cfg.SampleRate,
		Duration:   audio.Duration(pcm, c.cfg.SampleRate),
	}, nil
}

// buildSSML wraps text in the minimal SSML envelope the engine expects.
func buildSSML(text, voice, rate string) string {
	var b bytes.Buffer
	locale := voiceLocale(voice)
	fmt.Fprintf(&b, `<speak version="1.0" xml:lang="%s">`, locale)
	fmt.Fprintf(&b, `<voice name="%s">`, voice)
	fmt.Fprintf(&b, `<prosody rate="%s">%s</prosody>`, rate, html.EscapeString(text))
	b.WriteString(`</voice></speak>`)
	return b.String()
}

// voiceLocale derives the locale tag from a voice name such as
// "hi-IN-KavyaNeural".
func voiceLocale(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}
