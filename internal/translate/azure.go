package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AzureConfig struct {
	Endpoint string
	APIKey   string
	Region   string
	Timeout  time.Duration
}

// AzureTranslator calls the Azure Translator v3 REST API for ko→en
// normalization.
type AzureTranslator struct {
	endpoint string
	apiKey   string
	region   string
	client   *http.Client
	logger   *slog.Logger
}

func NewAzureTranslator(cfg AzureConfig, logger *slog.Logger) (*AzureTranslator, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("translator endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("translator api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AzureTranslator{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		region:   strings.TrimSpace(cfg.Region),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

func (t *AzureTranslator) Normalize(ctx context.Context, text, languageHint string) Result {
	if !needsTranslation(text, languageHint) {
		return Result{Text: text}
	}

	translated, err := t.translate(ctx, text)
	if err != nil {
		if t.logger != nil {
			t.logger.WarnContext(ctx, "translation degraded, passing question through",
				slog.Any("error", err),
			)
		}
		return Result{Text: text, Degraded: true}
	}
	return Result{Text: translated, Translated: true}
}

func (t *AzureTranslator) translate(ctx context.Context, text string) (string, error) {
	params := url.Values{}
	params.Set("api-version", "3.0")
	params.Set("from", "ko")
	params.Set("to", "en")

	body, err := json.Marshal([]map[string]string{{"text": text}})
	if err != nil {
		return "", fmt.Errorf("marshal translate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/translate?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", t.apiKey)
	if t.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", t.region)
	}
	req.Header.Set("X-ClientTraceId", uuid.NewString())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request translation: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read translation response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("translation failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed []struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	if len(parsed) == 0 || len(parsed[0].Translations) == 0 {
		return "", fmt.Errorf("empty translation response")
	}
	translated := strings.TrimSpace(parsed[0].Translations[0].Text)
	if translated == "" {
		return "", fmt.Errorf("translation returned empty text")
	}
	return translated, nil
}
