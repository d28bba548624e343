package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/seanmckay/hearth/internal/config"
	"github.com/seanmckay/hearth/internal/util"
)

// AnthropicClassifier calls the Anthropic messages API. Prompt bodies
// are truncated by token count before sending so a 40-page newsletter
// cannot blow the context window or the bill.
type AnthropicClassifier struct {
	endpoint        string
	apiKey          string
	model           string
	maxPromptTokens int
	httpClient      *http.Client
	tokenizer       *tiktoken.Tiktoken
}

func NewAnthropicClassifier(cfg config.ClassifierConfig) (*AnthropicClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier api key not configured")
	}

	// Anthropic models are not in tiktoken's registry; cl100k_base is a
	// close enough approximation for a truncation budget.
	tokenizer, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	return &AnthropicClassifier{
		endpoint:        cfg.Endpoint,
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		maxPromptTokens: cfg.MaxPromptTokens,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		tokenizer:       tokenizer,
	}, nil
}

func (c *AnthropicClassifier) Classify(ctx context.Context, subject, sender, body string) (*Result, error) {
	prompt := c.buildPrompt(subject, sender, body)

	text, err := c.call(ctx, prompt)
	if err != nil {
		return nil, err
	}
	result, err := parseModelJSON(text)
	if err != nil {
		return nil, err
	}
	return Sanitize(result), nil
}

func (c *AnthropicClassifier) buildPrompt(subject, sender, body string) string {
	body = c.truncate(body)

	var sb strings.Builder
	sb.WriteString("You review one email from a school or family activity sender.\n")
	sb.WriteString("Decide whether it describes an obligation (something a parent must do or attend by a date) or a plain announcement.\n\n")
	sb.WriteString("From: ")
	sb.WriteString(sender)
	sb.WriteString("\nSubject: ")
	sb.WriteString(subject)
	sb.WriteString("\n\nBody:\n")
	sb.WriteString(body)
	sb.WriteString("\n\nReturn ONLY a JSON object:\n")
	sb.WriteString(`{
  "item_type": "obligation" or "announcement",
  "category": "short category like sports, school, medical",
  "person": "family member name if one is clearly addressed, else empty",
  "obligation_date": "YYYY-MM-DD or empty",
  "confidence": 0.0-1.0,
  "reasoning": "one sentence",
  "event_titles": ["calendar-worthy event titles found, if any"]
}`)
	return sb.String()
}

// truncate cuts the body at the configured token budget, decoding back
// so the cut lands on a token boundary instead of mid-rune.
func (c *AnthropicClassifier) truncate(body string) string {
	if c.maxPromptTokens <= 0 {
		return body
	}
	tokens := c.tokenizer.Encode(body, nil, nil)
	if len(tokens) <= c.maxPromptTokens {
		return body
	}
	return c.tokenizer.Decode(tokens[:c.maxPromptTokens])
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClassifier) call(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: 1024,
		Messages:  []apiMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		util.Warn("classifier api error", "status", resp.StatusCode)
		return "", fmt.Errorf("classifier api error (status %d): %s",
			resp.StatusCode, util.TruncateString(string(respBody), 200))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal classifier response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("classifier api error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("classifier returned empty response")
	}
	return parsed.Content[0].Text, nil
}
