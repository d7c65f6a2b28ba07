package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of testing.T the asserters report through
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

type TextAssertOptions struct {
	IgnoreTrailingWhitespace bool `default:"false"`
	TrimSpace                bool `default:"false"`
	// StripANSI removes color escape sequences from the actual output.
	StripANSI                bool `default:"true"`
	EnableColors             bool `default:"false"`
}

type TextOption func(*TextAssertOptions)

// TextAsserter compares command output line by line and reports a unified diff.
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
	ta.t.Helper()
	if diff := ta.diff(actual, expected); diff != "" {
		ta.t.Errorf("Text assertion failed:\n%s", diff)
	}
}

func (ta *TextAsserter) diff(actual, expected string) string {
	if ta.options.StripANSI {
		actual = stripANSI(actual)
	}
	actual = ta.normalize(actual)
	expected = ta.normalize(expected)
	if actual == expected {
		return ""
	}

	edits := myers.ComputeEdits("", expected, actual)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", expected, edits))
	if !ta.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.options.IgnoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func colorize(diff string) string {
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
			// make whitespace visible, table padding is the usual culprit
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}

// stripANSI removes CSI sequences such as the ones fatih/color and the progress line emit.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func WithIgnoreTrailingWhitespace(ignore bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.IgnoreTrailingWhitespace = ignore
	}
}

func WithTrimSpace(trim bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.TrimSpace = trim
	}
}

func WithStripANSI(strip bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.StripANSI = strip
	}
}

func WithEnableColors(enable bool) TextOption {
	return func(opts *TextAssertOptions) {
		opts.EnableColors = enable
	}
}
