package insights

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type rawInsight struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Action     string   `json:"action"`
	Confidence *float64 `json:"confidence"`
}

// ParseInsights extracts the JSON array of insights from model output. Code
// fences and surrounding prose are ignored, invalid entries dropped, and the
// result capped at MaxInsights. Missing ids are filled in by position.
func ParseInsights(text string) ([]Insight, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array found", ErrNoInsights)
	}

	var raw []rawInsight
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoInsights, err)
	}

	out := make([]Insight, 0, min(len(raw), MaxInsights))
	seen := make(map[string]bool)
	for _, r := range raw {
		if len(out) == MaxInsights {
			break
		}
		in, ok := r.normalize(len(out) + 1)
		if !ok || seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		out = append(out, in)
	}

	if len(out) == 0 {
		return nil, ErrNoInsights
	}
	return out, nil
}

func (r rawInsight) normalize(pos int) (Insight, bool) {
	in := Insight{
		ID:      strings.TrimSpace(r.ID),
		Type:    Type(strings.ToLower(strings.TrimSpace(r.Type))),
		Title:   strings.TrimSpace(r.Title),
		Message: strings.TrimSpace(r.Message),
		Action:  strings.TrimSpace(r.Action),
	}
	if !in.Type.IsValid() || in.Title == "" || in.Message == "" {
		return Insight{}, false
	}
	if in.ID == "" {
		in.ID = fmt.Sprintf("insight-%d", pos)
	}
	if r.Confidence != nil && !math.IsNaN(*r.Confidence) {
		c := math.Max(0, math.Min(1, *r.Confidence))
		in.Confidence = &c
	}
	return in, true
}
