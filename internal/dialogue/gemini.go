package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giuliaferri/doctalk/internal/emotion"
	"github.com/giuliaferri/doctalk/internal/reliability"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-pro"

	geminiMaxAttempts  = 3
	geminiBackoffBase  = 200 * time.Millisecond
	geminiBackoffCap   = 2 * time.Second
	geminiMaxOutTokens = 512
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiClient talks to the Gemini generateContent REST endpoint.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *GeminiClient) Respond(ctx context.Context, history []Message, utterance string, emo emotion.Context) (Reply, error) {
	if strings.TrimSpace(utterance) == "" {
		return Reply{}, fmt.Errorf("utterance is empty")
	}

	contents := make([]geminiContent, 0, historyWindow+1)
	for _, msg := range recentHistory(history) {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: buildUserPrompt(utterance, emo)}},
	})

	temp := 0.6
	text, err := c.generate(ctx, geminiRequest{
		Contents:          contents,
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		GenerationConfig:  &geminiGenConfig{Temperature: &temp, MaxOutputTokens: geminiMaxOutTokens},
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:           text,
		FollowupNeeded: followupNeeded(text, len(history)),
	}, nil
}

func (c *GeminiClient) Summarize(ctx context.Context, history []Message) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("no conversation to summarize")
	}
	temp := 0.3
	return c.generate(ctx, geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildSummaryPrompt(history)}},
		}},
		GenerationConfig: &geminiGenConfig{Temperature: &temp, MaxOutputTokens: geminiMaxOutTokens},
	})
}

func (c *GeminiClient) generate(ctx context.Context, req geminiRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") +
		"/models/" + url.PathEscape(c.cfg.Model) + ":generateContent"

	var lastErr error
	for attempt := 0; attempt < geminiMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, geminiBackoffBase, geminiBackoffCap)):
			}
		}

		text, retryable, err := c.doGenerate(ctx, endpoint, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (c *GeminiClient) doGenerate(ctx context.Context, endpoint string, payload []byte) (text string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read gemini response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode gemini response: %w", err)
	}
	if parsed.Error != nil {
		return "", reliability.IsRetryableHTTPStatus(parsed.Error.Code),
			fmt.Errorf("gemini error %s: %s", parsed.Error.Status, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", false, fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", false, fmt.Errorf("gemini returned an empty reply")
	}
	return out, false, nil
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
