package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"secuflow/pkg/models"
)

// OpenAIConfig configures the Responses API client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI explains summaries through the OpenAI Responses API.
type OpenAI struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	observer Observer
}

type responsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type responsesReply struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// NewOpenAI creates the live explainer.
func NewOpenAI(cfg OpenAIConfig, opts ...Option) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai API key is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	o := collect(opts)
	return &OpenAI{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/responses",
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    cfg.Model,
		client:   &http.Client{Timeout: timeout},
		observer: o.observer,
	}, nil
}

// Explain asks the model for an explanation; on any failure it returns a text naming
// the error together with the raw summary.
func (o *OpenAI) Explain(ctx context.Context, s models.Summary) string {
	text, err := o.complete(ctx, BuildPrompt(s))
	if err != nil {
		o.observe("error")
		return failureText(err, s)
	}
	o.observe("ok")
	return text
}

// Name identifies the explainer.
func (o *OpenAI) Name() string {
	return "openai"
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(responsesRequest{Model: o.model, Input: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai request failed with status %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var reply responsesReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	return firstText(reply)
}

func firstText(reply responsesReply) (string, error) {
	for _, item := range reply.Output {
		for _, c := range item.Content {
			if c.Text != "" {
				return c.Text, nil
			}
		}
	}
	return "", errors.New("openai response has no text output")
}

func (o *OpenAI) observe(status string) {
	if o.observer != nil {
		o.observer(o.Name(), status)
	}
}
