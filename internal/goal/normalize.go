package goal

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// CleanTitle trims a title and collapses internal whitespace, keeping case.
func CleanTitle(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " ")
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// AllStatuses lists every status in display order.
var AllStatuses = []Status{StatusTodo, StatusBlocked, StatusDone, StatusCanceled}

// AllCategories lists every category in display order.
var AllCategories = []Category{
	CategoryCareer, CategoryHealth, CategoryLearning, CategoryFinance,
	CategoryPersonal, CategorySocial, CategoryCreative,
}

// AllDependencyTypes lists every dependency type in display order.
var AllDependencyTypes = []DependencyType{
	DependencyRequires, DependencyEnables, DependencyBlocks, DependencyRelated, DependencyParallel,
}

// ParseStatus parses a status case-insensitively.
func ParseStatus(s string) (Status, error) {
	norm := Status(Normalize(s))
	for _, st := range AllStatuses {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status %q: must be one of %s", s, joinValues(AllStatuses))
}

// ParseCategory parses a category case-insensitively.
func ParseCategory(s string) (Category, error) {
	norm := Category(Normalize(s))
	for _, c := range AllCategories {
		if c == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("invalid category %q: must be one of %s", s, joinValues(AllCategories))
}

// ParseDependencyType parses a dependency type; empty means requires.
func ParseDependencyType(s string) (DependencyType, error) {
	norm := DependencyType(Normalize(s))
	if norm == "" {
		return DependencyRequires, nil
	}
	for _, t := range AllDependencyTypes {
		if t == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("invalid dependency_type %q: must be one of %s", s, joinValues(AllDependencyTypes))
}

// ParseDeadline validates a YYYY-MM-DD date and returns it in canonical form.
func ParseDeadline(s string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid deadline %q: use YYYY-MM-DD", s)
	}
	return t.Format(DateLayout), nil
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
