// Package llm implements advisor.Advisor over a Perplexity-compatible
// chat-completions API, asking the model to approve or veto a candidate
// signal given the indicator snapshot that produced it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/advisor"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config configures the LLM advisor.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DefaultConfig points at Perplexity's public API with its online sonar
// model.
func DefaultConfig() Config {
	return Config{BaseURL: "https://api.perplexity.ai/chat/completions", Model: "sonar"}
}

// Advisor consults an LLM chat-completions endpoint to validate signals.
type Advisor struct {
	logger     *zap.Logger
	cfg        Config
	httpClient *http.Client

	mu        sync.RWMutex
	healthy   bool
	lastError string
}

// New constructs an Advisor.
func New(logger *zap.Logger, cfg Config) *Advisor {
	if cfg.BaseURL == "" {
		apiKey := cfg.APIKey
		cfg = DefaultConfig()
		cfg.APIKey = apiKey
	}
	return &Advisor{
		logger:     logger.Named("advisor-llm"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		healthy:    true,
	}
}

// Name identifies the advisor for logging.
func (a *Advisor) Name() string { return "llm:" + a.cfg.Model }

// Validate asks the model to approve or veto signal given ind. If the
// call fails it returns a zero Verdict (not approved, confidence 0)
// together with the error.
func (a *Advisor) Validate(ctx context.Context, signal domain.Signal, ind domain.IndicatorSnapshot) (advisor.Verdict, error) {
	if a.cfg.APIKey == "" {
		return advisor.Verdict{}, fmt.Errorf("llm advisor: api key not configured")
	}

	prompt := fmt.Sprintf(
		"A trading system proposes %s on %s at %s with confidence %.2f, reasoning: %q. "+
			"Indicators: RSI=%.1f ADX=%.1f MACD_hist=%.4f z_score=%.2f. "+
			"Respond with exactly one line: APPROVE or VETO, followed by a short reason.",
		signal.Action, signal.Symbol, signal.Price.String(), signal.Confidence, signal.Reasoning,
		ind.RSI, ind.ADX, ind.MACDHistogram, ind.ZScore,
	)

	content, err := a.callChat(ctx, prompt)
	if err != nil {
		a.mu.Lock()
		a.healthy = false
		a.lastError = err.Error()
		a.mu.Unlock()
		return advisor.Verdict{}, err
	}

	a.mu.Lock()
	a.healthy = true
	a.lastError = ""
	a.mu.Unlock()

	return parseVerdict(content), nil
}

func (a *Advisor) callChat(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model": a.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a risk-averse trading desk supervisor. Only APPROVE when the proposal is well supported."},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.1,
		"max_tokens":  150,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm advisor api error: %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm advisor: empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseVerdict(content string) advisor.Verdict {
	upper := strings.ToUpper(content)
	approved := strings.Contains(upper, "APPROVE") && !strings.Contains(upper, "VETO")
	confidence := 0.5
	if approved {
		confidence = 0.75
	}
	return advisor.Verdict{Approved: approved, Confidence: confidence, Reasoning: strings.TrimSpace(content)}
}

// Healthy reports whether the last call succeeded.
func (a *Advisor) Healthy() (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthy, a.lastError
}
