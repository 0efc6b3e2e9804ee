// Package estimate predicts the token cost of a generation before it is
// submitted.
package estimate

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

const (
	// ContextWindow is the model's total context, in tokens.
	ContextWindow = 1_048_576
	// MaxOutputTokens caps the suggested output budget.
	MaxOutputTokens = 128_000
	// SafetyMargin is reserved between input and output budgets.
	SafetyMargin = 5_000
	// CharsPerToken is the fallback character ratio.
	CharsPerToken = 3.5
	// PricePerMillion is the estimated USD cost per million tokens.
	PricePerMillion = 3.0
)

// SystemPrompt is sent with every generation and counts toward input.
const SystemPrompt = "Create a beautiful, modern, and interactive website visualization from the provided content. " +
	"Your task is to transform the input into a well-structured, visually engaging webpage that enhances " +
	"readability and understanding. Generate only the complete HTML document, with styling and minimal " +
	"JavaScript where appropriate, responsive across screen sizes and built from semantic HTML. " +
	"Do not include any explanations before or after the HTML code."

// Request is the input to an estimate.
type Request struct {
	Content  string `json:"content"`
	FileType string `json:"file_type,omitempty"`
}

// Estimate is the predicted token usage for a request.
type Estimate struct {
	EstimatedTokens     int64   `json:"estimated_tokens"`
	EstimatedCost       float64 `json:"estimated_cost"`
	MaxSafeOutputTokens int64   `json:"max_safe_output_tokens"`
	// Method is "tiktoken", "chars" or "remote".
	Method string `json:"method,omitempty"`
}

// Estimator produces estimates.
type Estimator interface {
	Estimate(ctx context.Context, req Request) (*Estimate, error)
}

// MaxSafeOutput returns the output budget left after input tokens.
func MaxSafeOutput(inputTokens int64) int64 {
	return max(0, min(MaxOutputTokens, ContextWindow-inputTokens-SafetyMargin))
}

// Cost returns the estimated cost of tokens, rounded to 6 places.
func Cost(tokens int64) float64 {
	return math.Round(float64(tokens)/1_000_000*PricePerMillion*1e6) / 1e6
}

// charTokens is the character-ratio fallback count.
func charTokens(s string) int64 {
	return int64(float64(len(s)) / CharsPerToken)
}

// Local estimates offline with the cl100k_base encoding, falling back
// to a character ratio when the encoding is unavailable.
type Local struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

// NewLocal creates a Local estimator. The encoding loads on first use.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) load() (tokenizer.Codec, error) {
	l.once.Do(func() {
		l.codec, l.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return l.codec, l.err
}

func (l *Local) count(s string) (int64, bool) {
	codec, err := l.load()
	if err != nil {
		return charTokens(s), false
	}
	ids, _, err := codec.Encode(s)
	if err != nil {
		return charTokens(s), false
	}
	return int64(len(ids)), true
}

// Estimate counts tokens in req.Content plus the system prompt.
func (l *Local) Estimate(ctx context.Context, req Request) (*Estimate, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("estimate: no content provided")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentTokens, exact := l.count(req.Content)
	promptTokens, promptExact := l.count(SystemPrompt)
	method := "tiktoken"
	if !exact || !promptExact {
		contentTokens = charTokens(req.Content)
		promptTokens = charTokens(SystemPrompt)
		method = "chars"
	}

	total := contentTokens + promptTokens
	return &Estimate{
		EstimatedTokens:     total,
		EstimatedCost:       Cost(total),
		MaxSafeOutputTokens: MaxSafeOutput(total),
		Method:              method,
	}, nil
}

var _ Estimator = (*Local)(nil)
