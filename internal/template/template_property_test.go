package template

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"scantrack/pkg/domain"
)

// Rendering must be pure literal substitution: identical inputs always yield
// identical output, and the output is exactly the literals interleaved with
// the drawn values.
func TestRenderIsDeterministic(t *testing.T) {
	literal := rapid.StringMatching(`[a-z0-9/._-]{0,12}`)
	value := rapid.StringMatching(`[a-zA-Z0-9_-]{1,10}`)
	rapid.Check(t, func(t *rapid.T) {
		fields := []Field{FieldBeamline, FieldVisit, FieldProposal, FieldScan, FieldSubdirectory, FieldDirectory, FieldExtension, FieldDetector}
		n := rapid.IntRange(1, 6).Draw(t, "placeholders")

		var content strings.Builder
		var expected strings.Builder
		values := Values{}
		for i := 0; i < n; i++ {
			lit := literal.Draw(t, "literal")
			content.WriteString(lit)
			expected.WriteString(lit)
			f := rapid.SampledFrom(fields).Draw(t, "field")
			v, ok := values[f]
			if !ok {
				v = value.Draw(t, "value")
				values[f] = v
			}
			content.WriteString("{" + string(f) + "}")
			expected.WriteString(v)
		}
		tail := literal.Draw(t, "tail")
		content.WriteString(tail)
		expected.WriteString(tail)

		tpl, err := Parse(domain.KindDetector, content.String())
		if err != nil {
			t.Fatalf("parse %q: %v", content.String(), err)
		}
		first, err := tpl.Render(values)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if first != expected.String() {
			t.Fatalf("render %q: expected %q, got %q", content.String(), expected.String(), first)
		}
		second, err := tpl.Render(values)
		if err != nil {
			t.Fatalf("render again: %v", err)
		}
		if second != first {
			t.Fatalf("rendering is not deterministic: %q vs %q", first, second)
		}
	})
}
