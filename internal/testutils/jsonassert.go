package testutils

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports an ASCII diff on mismatch.
type JSONAsserter struct {
	t       testing.TB
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t testing.TB) *JSONAsserter {
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
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals actual and compares it against expectedJSON.
func (ja *JSONAsserter) AssertValue(actual any, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(MustJSON(actual), expectedJSON)
}

// Diff returns an empty string when the documents match under the configured options.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if isArray(expected) && isArray(actual) {
		expected = map[string]any{"array": expected}
		actual = map[string]any{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresenceWithActual(expected, actual)
	}
	if len(ja.options.IgnoredFields) > 0 {
		removeIgnoredFields(expected, actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	out, _ := f.Format(diff)
	return out
}

func replacePresenceWithActual(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		for k := range exp {
			if s, ok := exp[k].(string); ok && s == PresencePlaceholder {
				if v, present := act[k]; present {
					exp[k] = v
				}
			} else {
				replacePresenceWithActual(exp[k], act[k])
			}
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) {
				replacePresenceWithActual(exp[i], act[i])
			}
		}
	}
}

// pruneExtraKeys drops keys from actual objects that expected does not mention.
func pruneExtraKeys(actual, expected any) {
	switch act := actual.(type) {
	case map[string]any:
		exp, ok := expected.(map[string]any)
		if !ok {
			return
		}
		for k := range act {
			if _, keep := exp[k]; !keep {
				delete(act, k)
				continue
			}
			pruneExtraKeys(act[k], exp[k])
		}
	case []any:
		exp, ok := expected.([]any)
		if !ok {
			return
		}
		for i := range act {
			if i < len(exp) {
				pruneExtraKeys(act[i], exp[i])
			}
		}
	}
}

func removeIgnoredFields(expected, actual any, fields []string) {
	var strip func(v any)
	strip = func(v any) {
		switch node := v.(type) {
		case map[string]any:
			for _, f := range fields {
				delete(node, f)
			}
			for _, child := range node {
				strip(child)
			}
		case []any:
			for _, child := range node {
				strip(child)
			}
		}
	}
	strip(expected)
	strip(actual)
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.AllowPresencePlaceholder = allow
	}
}

// WithIgnoredFields removes the named keys at every depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoredFields = fields
	}
}
