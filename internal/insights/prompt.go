package insights

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/stats"
)

// maxPromptRecords bounds prompt size for heavy users; records arrive newest first.
const maxPromptRecords = 100

var funcs = template.FuncMap{
	"money": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"day":   func(t time.Time) string { return t.UTC().Format(stats.DayKeyLayout) },
}

var insightsTmpl = template.Must(template.New("insights").Funcs(funcs).Parse(`You are a personal finance assistant.
Today is {{day .Now}}. Below are the user's expenses from the last {{.WindowDays}} days.
{{template "expenses" .}}
Write between 3 and {{.Max}} short, specific insights about this spending.
Respond with ONLY a JSON array. Each element must be an object with:
  "id": a short unique string,
  "type": one of "warning", "info", "success", "tip",
  "title": at most 6 words,
  "message": one or two sentences referring to the actual numbers,
  "action": optional follow-up question the user could ask,
  "confidence": optional number between 0 and 1.
`))

var answerTmpl = template.Must(template.New("answer").Funcs(funcs).Parse(`You are a personal finance assistant.
Today is {{day .Now}}. Below are the user's expenses from the last {{.WindowDays}} days.
{{template "expenses" .}}
{{- with .About}}
The question follows up on this earlier insight: "{{.Title}}: {{.Message}}"
{{- end}}
Answer the user's question in at most 150 words of plain text, using the numbers above where relevant.

Question: {{.Question}}
`))

const expensesTmpl = `{{define "expenses"}}
{{- if .Records}}
Total: {{money .Summary.Total}} across {{.Summary.Count}} expenses (average {{money .Summary.Average}}).
By category:
{{- range .Categories}}
- {{.Category}}: {{money .Total}} ({{.Percentage}}%)
{{- end}}
Expenses (newest first):
{{- range .Records}}
- {{day .Date}} | {{.Category}} | {{money .Amount}} | {{.Text}}
{{- end}}
{{- else}}
The user has not recorded any expenses in this period.
{{- end}}
{{end}}`

func init() {
	template.Must(insightsTmpl.Parse(expensesTmpl))
	template.Must(answerTmpl.Parse(expensesTmpl))
}

type promptRecord struct {
	Date     time.Time
	Category core.Category
	Amount   float64
	Text     string
}

type promptData struct {
	Now        time.Time
	WindowDays int
	Max        int
	Summary    stats.Summary
	Categories []stats.CategoryShare
	Records    []promptRecord
	Question   string
	About      *Insight
}

func newPromptData(records []core.Record, window time.Duration, now time.Time) promptData {
	d := promptData{
		Now:        now,
		WindowDays: int(window.Hours() / 24),
		Max:        MaxInsights,
		Summary:    stats.Summarize(records),
		Categories: stats.ByCategory(records),
	}
	for i, r := range records {
		if i == maxPromptRecords {
			break
		}
		d.Records = append(d.Records, promptRecord{
			Date:     r.Date(),
			Category: r.Category(),
			Amount:   r.Amount(),
			Text:     singleLine(r.Text()),
		})
	}
	return d
}

// InsightsPrompt renders the prompt asking for a JSON array of insights.
func InsightsPrompt(records []core.Record, window time.Duration, now time.Time) (string, error) {
	var b strings.Builder
	if err := insightsTmpl.Execute(&b, newPromptData(records, window, now)); err != nil {
		return "", fmt.Errorf("render insights prompt: %w", err)
	}
	return b.String(), nil
}

// AnswerPrompt renders the prompt for a free-text answer to question. about,
// when non-nil, is the insight the question follows up on.
func AnswerPrompt(records []core.Record, question string, about *Insight, window time.Duration, now time.Time) (string, error) {
	d := newPromptData(records, window, now)
	d.Question = singleLine(question)
	if about != nil {
		a := *about
		a.Title, a.Message = singleLine(a.Title), singleLine(a.Message)
		d.About = &a
	}

	var b strings.Builder
	if err := answerTmpl.Execute(&b, d); err != nil {
		return "", fmt.Errorf("render answer prompt: %w", err)
	}
	return b.String(), nil
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
