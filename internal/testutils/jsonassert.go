package testutils

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/bleuart/internal/device"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// AnyValue in expected JSON matches whatever the actual document holds at that key.
const AnyValue = "<<ANY>>"

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not mention.
	IgnoreExtraKeys bool     `default:"true"`
	IgnoredFields   []string `default:""`
	// SortByField orders arrays of objects by this key before comparing.
	SortByField     string   `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports a readable diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertRecords compares the JSON rendering of catalog records against expectedJSON
func (ja *JSONAsserter) AssertRecords(records []device.Record, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(MustJSON(records), expectedJSON)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	for _, field := range ja.options.IgnoredFields {
		dropField(expected, field)
		dropField(actual, field)
	}
	if ja.options.SortByField != "" {
		sortByField(expected, ja.options.SortByField)
		sortByField(actual, ja.options.SortByField)
	}
	actual = ja.project(actual, expected)

	// gojsondiff only compares objects at the root
	expected = map[string]any{"root": expected}
	actual = map[string]any{"root": actual}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)
	d, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(d)
	return out
}

// project shapes actual after expected: AnyValue placeholders adopt the actual
// value and, with IgnoreExtraKeys, keys missing from expected are dropped.
func (ja *JSONAsserter) project(actual, expected any) any {
	if s, ok := expected.(string); ok && s == AnyValue {
		return s
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return actual
		}
		out := make(map[string]any, len(act))
		for k, v := range act {
			e, known := exp[k]
			switch {
			case known:
				out[k] = ja.project(v, e)
			case !ja.options.IgnoreExtraKeys:
				out[k] = v
			}
		}
		return out
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return actual
		}
		out := make([]any, len(act))
		for i, v := range act {
			if i < len(exp) {
				out[i] = ja.project(v, exp[i])
			} else {
				out[i] = v
			}
		}
		return out
	}
	return actual
}

func dropField(v any, field string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, field)
		for _, child := range t {
			dropField(child, field)
		}
	case []any:
		for _, child := range t {
			dropField(child, field)
		}
	}
}

func sortByField(v any, field string) {
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			sortByField(child, field)
		}
	case []any:
		slices.SortStableFunc(t, func(a, b any) int {
			return cmp.Compare(keyOf(a, field), keyOf(b, field))
		})
		for _, child := range t {
			sortByField(child, field)
		}
	}
}

func keyOf(v any, field string) string {
	if m, ok := v.(map[string]any); ok {
		if k, ok := m[field]; ok {
			return fmt.Sprint(k)
		}
	}
	return ""
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithIgnoredFields removes the named keys at every depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}

// WithSortByField makes array comparison independent of discovery order.
func WithSortByField(field string) Option {
	return func(opts *JSONAssertOptions) {
		opts.SortByField = field
	}
}
