package testutils

import (
	"strings"
	"testing"
)

// recordingT captures Errorf calls so asserter failures can be inspected.
type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, format)
}

func TestTextAsserterAcceptsEqualText(t *testing.T) {
	ta := NewTextAsserter(t)
	ta.Assert("FAMILY  ACTIVE\na2dp    AA:11\n", "FAMILY  ACTIVE\na2dp    AA:11")
}

func TestTextAsserterIgnoresTrailingWhitespaceByDefault(t *testing.T) {
	ta := NewTextAsserter(t)
	ta.Assert("line one   \nline two\t\n", "line one\nline two")
}

func TestTextAsserterReportsDifferences(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserter(rec)

	ta.Assert("a2dp AA:11", "a2dp BB:22")

	if len(rec.failures) != 1 {
		t.Fatalf("expected one failure, got %d", len(rec.failures))
	}
}

func TestTextAsserterOptionFunctions(t *testing.T) {
	ta := NewTextAsserter(t).WithOptions(
		WithIgnoreLeadingWhitespace(true),
		WithIgnoreEmptyLines(true),
	)
	ta.Assert("  indented\n\n\n  lines", "indented\nlines")
}

func TestTextAsserterDiffContainsBothSides(t *testing.T) {
	ta := NewTextAsserter(&recordingT{})
	d := ta.diff("actual text", "expected text")
	if !strings.Contains(d, "-expected text") || !strings.Contains(d, "+actual text") {
		t.Fatalf("unified diff should show both sides, got:\n%s", d)
	}
}
