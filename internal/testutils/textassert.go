package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type TextAssertOptions struct {
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	TrimSpace                bool `default:"true"`
	EnableColors             bool `default:"false"`
}

type TextOption func(*TextAssertOptions)

// TextAsserter compares rendered CLI output and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual text against expected text
func (ta *TextAsserter) Assert(actual, expected string) {
	if diff := ta.Diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed:\n%s", diff)
	}
}

func (ta *TextAsserter) Diff(actual, expected string) string {
	normalizedActual := ta.normalize(actual)
	normalizedExpected := ta.normalize(expected)
	if normalizedActual == normalizedExpected {
		return ""
	}

	edits := myers.ComputeEdits("", normalizedExpected, normalizedActual)
	unified := gotextdiff.ToUnified("expected", "actual", normalizedExpected, edits)
	return ta.colorize(fmt.Sprint(unified))
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}

	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreEmptyLines = ignore
	}
}

func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.TrimSpace = trim
	}
}

func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.EnableColors = enable
	}
}
