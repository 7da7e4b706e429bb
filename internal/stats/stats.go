// Package stats derives dashboard figures from a user's records.
//
// Every function is pure: it never mutates its input and returns the same
// output for the same slice, whatever order the store returned it in.
package stats

import (
	"sort"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"spendlog/internal/core"
)

const (
	DayKeyLayout   = "2006-01-02"
	DayLabelLayout = "Jan 02"

	// RecentBarCount is how many records the dashboard bar chart shows.
	RecentBarCount = 6
	barNameLimit   = 10
)

// Palette is the chart color cycle used for category slices.
var Palette = []string{
	"#3B82F6",
	"#10B981",
	"#F59E0B",
	"#EF4444",
	"#8B5CF6",
	"#06B6D4",
	"#84CC16",
}

// ColorFor returns the palette color for the i-th series. Negative indexes
// wrap from the end.
func ColorFor(i int) string {
	n := len(Palette)
	return Palette[((i%n)+n)%n]
}

type (
	Summary struct {
		Count   int     `json:"count"`
		Total   float64 `json:"total"`
		Average float64 `json:"average"`
		Max     float64 `json:"max"`
		Min     float64 `json:"min"`
	}

	CategoryShare struct {
		Category   core.Category `json:"name"`
		Total      float64       `json:"value"`
		Percentage string        `json:"percentage"`
		Color      string        `json:"color"`
	}

	CumulativePoint struct {
		Index    int       `json:"transaction"`
		RecordID string    `json:"recordId"`
		Text     string    `json:"text"`
		Date     time.Time `json:"date"`
		Label    string    `json:"label"`
		Amount   float64   `json:"amount"`
		Running  float64   `json:"cumulative"`
	}

	DailyPoint struct {
		Day    string  `json:"day"`
		Label  string  `json:"label"`
		Amount float64 `json:"amount"`
		Count  int     `json:"count"`
	}

	BarPoint struct {
		Name     string  `json:"name"`
		FullText string  `json:"fullText"`
		Amount   float64 `json:"amount"`
		Label    string  `json:"date"`
	}

	DashboardStats struct {
		Summary    Summary           `json:"summary"`
		Recent     []BarPoint        `json:"recent"`
		Categories []CategoryShare   `json:"categories"`
		Cumulative []CumulativePoint `json:"cumulative"`
		Daily      []DailyPoint      `json:"daily"`
	}
)

// Summarize computes count, total, average, max and min. An empty slice
// yields the zero Summary.
func Summarize(records []core.Record) Summary {
	if len(records) == 0 {
		return Summary{}
	}
	s := Summary{
		Count: len(records),
		Max:   records[0].Amount(),
		Min:   records[0].Amount(),
	}
	for _, r := range records {
		a := r.Amount()
		s.Total += a
		if a > s.Max {
			s.Max = a
		}
		if a < s.Min {
			s.Min = a
		}
	}
	s.Average = s.Total / float64(s.Count)
	return s
}

// ByCategory sums amounts per category in first-seen order.
func ByCategory(records []core.Record) []CategoryShare {
	var (
		order []core.Category
		grand float64
	)
	sums := map[core.Category]float64{}
	for _, r := range records {
		c := r.Category()
		if _, seen := sums[c]; !seen {
			order = append(order, c)
		}
		sums[c] += r.Amount()
		grand += r.Amount()
	}

	out := make([]CategoryShare, 0, len(order))
	for i, c := range order {
		out = append(out, CategoryShare{
			Category:   c,
			Total:      sums[c],
			Percentage: Percentage(sums[c], grand),
			Color:      ColorFor(i),
		})
	}
	return out
}

// Percentage formats part/whole*100 with one decimal. A zero whole gives "0.0".
func Percentage(part, whole float64) string {
	if whole == 0 {
		return "0.0"
	}
	return decimal.NewFromFloat(part).
		Div(decimal.NewFromFloat(whole)).
		Mul(decimal.NewFromInt(100)).
		StringFixed(1)
}

// Cumulative orders records by date (ties keep input order) and returns the
// running total after each one.
func Cumulative(records []core.Record) []CumulativePoint {
	sorted := sortedByDate(records)
	out := make([]CumulativePoint, len(sorted))
	var running float64
	for i, r := range sorted {
		running += r.Amount()
		out[i] = CumulativePoint{
			Index:    i + 1,
			RecordID: r.ID(),
			Text:     r.Text(),
			Date:     r.Date(),
			Label:    r.Date().Format(DayLabelLayout),
			Amount:   r.Amount(),
			Running:  running,
		}
	}
	return out
}

// Daily groups records by UTC calendar day, ascending.
func Daily(records []core.Record) []DailyPoint {
	byDay := map[string]*DailyPoint{}
	for _, r := range records {
		d := r.Date().UTC()
		key := d.Format(DayKeyLayout)
		p, ok := byDay[key]
		if !ok {
			p = &DailyPoint{Day: key, Label: d.Format(DayLabelLayout)}
			byDay[key] = p
		}
		p.Amount += r.Amount()
		p.Count++
	}

	out := make([]DailyPoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// RecentBars returns the first n records as bar chart points.
func RecentBars(records []core.Record, n int) []BarPoint {
	if n > len(records) {
		n = len(records)
	}
	if n < 0 {
		n = 0
	}
	out := make([]BarPoint, n)
	for i, r := range records[:n] {
		out[i] = BarPoint{
			Name:     truncate(r.Text(), barNameLimit),
			FullText: r.Text(),
			Amount:   r.Amount(),
			Label:    r.Date().Format(DayLabelLayout),
		}
	}
	return out
}

// Dashboard bundles every series the statistics view renders.
func Dashboard(records []core.Record) DashboardStats {
	return DashboardStats{
		Summary:    Summarize(records),
		Recent:     RecentBars(records, RecentBarCount),
		Categories: ByCategory(records),
		Cumulative: Cumulative(records),
		Daily:      Daily(records),
	}
}

func sortedByDate(records []core.Record) []core.Record {
	sorted := make([]core.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date().Before(sorted[j].Date())
	})
	return sorted
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
