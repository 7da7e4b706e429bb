// Package insights turns a user's recent records into short AI-written
// observations and answers follow-up questions about them.
package insights

import (
	"context"
	"errors"
)

// MaxInsights caps how many insights a single generation returns.
const MaxInsights = 6

// FallbackAnswer is returned when an answer could not be generated.
const FallbackAnswer = "Sorry, I couldn't generate an answer right now. Please try again later."

var (
	ErrNoGenerator = errors.New("no text generator configured")
	ErrNoInsights  = errors.New("no usable insights in model output")
)

// Type classifies an insight for display.
type Type string

const (
	TypeWarning Type = "warning"
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeTip     Type = "tip"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeWarning, TypeInfo, TypeSuccess, TypeTip:
		return true
	}
	return false
}

// Insight is a short observation about the caller's spending. Action, when
// present, is a follow-up the caller can ask to have elaborated.
type Insight struct {
	ID         string   `json:"id"`
	Type       Type     `json:"type"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Action     string   `json:"action,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func confidence(v float64) *float64 { return &v }

// FallbackInsights is served when the model is unavailable or returns
// nothing usable. Callers get a fresh slice.
func FallbackInsights() []Insight {
	return []Insight{
		{
			ID:         "fallback-1",
			Type:       TypeInfo,
			Title:      "Track consistently",
			Message:    "Recording every expense, even small ones, gives you the clearest picture of where your money goes.",
			Action:     "How can I build a habit of tracking expenses?",
			Confidence: confidence(1),
		},
		{
			ID:         "fallback-2",
			Type:       TypeTip,
			Title:      "Set category budgets",
			Message:    "Pick a monthly limit for your largest categories and compare it with your totals each week.",
			Action:     "How do I choose a realistic budget per category?",
			Confidence: confidence(1),
		},
		{
			ID:         "fallback-3",
			Type:       TypeSuccess,
			Title:      "Review recurring bills",
			Message:    "Subscriptions and bills add up quietly. Reviewing them every few months often frees up money.",
			Action:     "Which recurring costs are usually worth cancelling?",
			Confidence: confidence(1),
		},
	}
}
