// Package cleaner turns raw local records into validated domain records.
//
// Every function here is pure. Out-of-range or unparsable fields are dropped from the record,
// never clamped or defaulted; a record is rejected outright only when nothing identifying
// survives. Range and enum checks go through a shared validator instance.
package cleaner

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"example.com/fitsync/internal/domain"
)

// ErrRejected marks a record that has no usable content after cleaning.
var ErrRejected = errors.New("record rejected")

const (
	maxNotesLength = 500
	maxNameLength  = 100
	maxGoals       = 10
)

// Range is an inclusive numeric bound.
type Range struct {
	Min, Max float64
}

func (r Range) tag() string {
	return fmt.Sprintf("gte=%g,lte=%g", r.Min, r.Max)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// object asserts that raw is a JSON object.
func object(raw any) (map[string]any, bool) {
	m, ok := raw.(map[string]any)
	return m, ok
}

// lookup returns the first present value among the candidate field names.
func lookup(raw map[string]any, names ...string) (any, bool) {
	for _, name := range names {
		if v, ok := raw[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func parseNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// number parses a field and keeps it only when it lies within r.
func number(raw map[string]any, r Range, names ...string) *float64 {
	v, ok := lookup(raw, names...)
	if !ok {
		return nil
	}
	f, ok := parseNumber(v)
	if !ok || validate.Var(f, r.tag()) != nil {
		return nil
	}
	return &f
}

// integer is number restricted to whole values.
func integer(raw map[string]any, r Range, names ...string) *int {
	f := number(raw, r, names...)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	i := int(*f)
	return &i
}

// text trims a string field and truncates it to max runes.
func text(raw map[string]any, max int, names ...string) string {
	v, ok := lookup(raw, names...)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return truncate(strings.TrimSpace(s), max)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

var dateLayouts = []string{
	domain.DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// calendarDate normalizes a date field to YYYY-MM-DD.
func calendarDate(raw map[string]any, names ...string) string {
	s := text(raw, 64, names...)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			day := t.Format(domain.DateLayout)
			if validate.Var(day, "datetime="+domain.DateLayout) == nil {
				return day
			}
		}
	}
	return ""
}

// enum keeps a lower-cased string only when it is one of allowed.
func enum(raw map[string]any, allowed []string, names ...string) string {
	s := strings.ToLower(text(raw, maxNameLength, names...))
	if s == "" {
		return ""
	}
	if validate.Var(s, "oneof="+strings.Join(allowed, " ")) != nil {
		return ""
	}
	return s
}

func boolean(raw map[string]any, names ...string) *bool {
	v, ok := lookup(raw, names...)
	if !ok {
		return nil
	}
	switch b := v.(type) {
	case bool:
		return &b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}

func stringList(raw map[string]any, maxItems, maxLen int, names ...string) []string {
	v, ok := lookup(raw, names...)
	if !ok {
		return nil
	}
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		for _, s := range list {
			items = append(items, s)
		}
	case string:
		items = append(items, list)
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = truncate(strings.TrimSpace(s), maxLen)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxItems {
			break
		}
	}
	return out
}
