package core

import "strings"

type Category string

const (
	Food           Category = "Food"
	Transportation Category = "Transportation"
	Entertainment  Category = "Entertainment"
	Shopping       Category = "Shopping"
	Bills          Category = "Bills"
	Healthcare     Category = "Healthcare"
	Education      Category = "Education"
	Travel         Category = "Travel"
	Other          Category = "Other"
)

// DefaultCategory is applied when a record is created without a category.
const DefaultCategory = Other

var categories = []Category{
	Food,
	Transportation,
	Entertainment,
	Shopping,
	Bills,
	Healthcare,
	Education,
	Travel,
	Other,
}

// Categories returns the fixed category set in display order. The default
// category is always last.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory resolves a category name. Blank input yields the default.
// Matching is case-insensitive so "food" and "Food" are the same category.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCategory, nil
	}
	for _, c := range categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", ErrUnknownCategory
}

func (c Category) IsValid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}
