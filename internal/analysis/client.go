// Package analysis asks an OpenAI-compatible chat completion endpoint to review a proposal.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/oauth2"

	"github.com/sumire/proposals/internal/domain"
)

// ErrAnalysis is wrapped by every failure to obtain a usable analysis.
var ErrAnalysis = errors.New("analysis failed")

// Config for the analysis client.
type Config struct {
	APIURL         string
	APIKey         string
	Model          string
	Temperature    float64
	Timeout        time.Duration // 0 disables the client-side timeout
	MaxPromptChars int
}

// Request is the input of a single analysis.
type Request struct {
	Title    string
	Text     string
	Language string
}

// Client calls the chat completions endpoint and validates the structured reply.
type Client struct {
	cfg    Config
	http   *http.Client
	schema *jsonschema.Schema
	log    *slog.Logger
}

// NewClient creates a new Client. The API key is sent as a bearer token.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("analysis: API URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("analysis: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := compileSchema(Schema())
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	httpClient := &http.Client{}
	if cfg.APIKey != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.APIKey,
			TokenType:   "Bearer",
		}))
	}
	httpClient.Timeout = cfg.Timeout

	return &Client{cfg: cfg, http: httpClient, schema: schema, log: logger}, nil
}

// Analyze sends the proposal text to the model and returns the validated analysis.
func (c *Client) Analyze(ctx context.Context, req Request) (*domain.Analysis, error) {
	rid := uuid.New().String()
	start := time.Now()

	user, truncated := buildUserPrompt(req, c.cfg.MaxPromptChars)
	c.log.Info("analysis.request.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"language", req.Language,
		"truncated", truncated,
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt()},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(Schema())},
			{"role": "user", "content": user},
		},
	}

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("analysis.request.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("analysis.request.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: decode response: %v", ErrAnalysis, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("analysis.request.no_choices",
			"req_id", rid, "elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: no choices in response", ErrAnalysis)
	}

	content := []byte(stripCodeFence(cc.Choices[0].Message.Content))
	if err := validateAgainst(c.schema, content); err != nil {
		c.log.Error("analysis.request.schema_validation_failed",
			"req_id", rid, "error", err, "content_bytes", len(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}

	var out domain.Analysis
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal analysis: %v", ErrAnalysis, err)
	}
	if err := out.Validate(); err != nil {
		c.log.Error("analysis.request.invalid",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}

	c.log.Info("analysis.request.ok",
		"req_id", rid,
		"overall_score", out.OverallScore,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncate(string(data), 512))
	}
	return data, nil
}

func truncate(s string, n int) string {
	out, _ := truncateRunes(s, n)
	return out
}
