package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/resilience"
)

// AzureClient implements Translator against the Azure Translator v3 REST
// API. Calls are protected by a shared circuit breaker.
type AzureClient struct {
	cfg        *config.Config
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

type translateRequestItem struct {
	Text string `json:"text"`
}

type translateResponseItem struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

// NewAzureClient creates a translation engine client.
func NewAzureClient(cfg *config.Config) *AzureClient {
	return &AzureClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.EngineTimeout) * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(
			"translator",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Translate converts one text segment to the target language.
func (c *AzureClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var result string
	start := time.Now()

	err := c.breaker.Call(func() error {
		var callErr error
		result, callErr = c.doTranslate(ctx, text, sourceLang, targetLang)
		return callErr
	})

	observability.RecordEngineRequest("translate", time.Since(start).Seconds(), err)
	observability.UpdateCircuitBreakerState(c.breaker.Name(), int(c.breaker.GetState()))
	return result, err
}

func (c *AzureClient) doTranslate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	endpoint := fmt.Sprintf("%s/translate?api-version=3.0&from=%s&to=%s",
		c.cfg.TranslatorEndpoint, url.QueryEscape(sourceLang), url.QueryEscape(targetLang))

	body, err := json.Marshal([]translateRequestItem{{Text: text}})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.TranslatorKey)
	if c.cfg.TranslatorRegion != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", c.cfg.TranslatorRegion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translator returned status %d: %s", resp.StatusCode, payload)
	}

	var parsed []translateResponseItem
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	if len(parsed) == 0 || len(parsed[0].Translations) == 0 {
		return "", fmt.Errorf("translator returned empty result")
	}

	return parsed[0].Translations[0].Text, nil
}

// Ping probes the translator endpoint for the readiness check.
func (c *AzureClient) Ping(ctx context.Context) (bool, error) {
	_, err := c.doTranslate(ctx, "ping", "en", "es")
	if err != nil {
		return false, err
	}
	return true, nil
}
