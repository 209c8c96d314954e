// Package template implements path template parsing and rendering. A template
// is literal text with `{token}` placeholders drawn from an enumerated field
// set; anything outside the set is rejected, never silently dropped.
package template

import (
	"strings"

	"scantrack/pkg/domain"
)

// Field names a recognised placeholder token.
type Field string

// Recognised placeholder fields. Each template kind admits a subset.
const (
	// FieldBeamline is the beamline name.
	FieldBeamline Field = "beamline"
	// FieldVisit is the visit identifier.
	FieldVisit Field = "visit"
	// FieldProposal is the visit identifier's prefix before the first '-'.
	FieldProposal Field = "proposal"
	// FieldScan is the allocated scan number.
	FieldScan Field = "scan"
	// FieldSubdirectory is the caller-supplied relative subdirectory.
	FieldSubdirectory Field = "subdirectory"
	// FieldDirectory is the registered output directory.
	FieldDirectory Field = "directory"
	// FieldExtension is the registered file extension.
	FieldExtension Field = "extension"
	// FieldDetector is the normalised detector name.
	FieldDetector Field = "detector"
)

var visitFields = map[Field]struct{}{
	FieldBeamline: {},
	FieldVisit:    {},
	FieldProposal: {},
}

var scanFields = map[Field]struct{}{
	FieldBeamline:     {},
	FieldVisit:        {},
	FieldProposal:     {},
	FieldScan:         {},
	FieldSubdirectory: {},
	FieldDirectory:    {},
	FieldExtension:    {},
}

var detectorFields = map[Field]struct{}{
	FieldBeamline:     {},
	FieldVisit:        {},
	FieldProposal:     {},
	FieldScan:         {},
	FieldSubdirectory: {},
	FieldDirectory:    {},
	FieldExtension:    {},
	FieldDetector:     {},
}

// FieldsFor returns the placeholder set admitted by a template kind.
func FieldsFor(kind domain.TemplateKind) map[Field]struct{} {
	switch kind {
	case domain.KindVisit:
		return visitFields
	case domain.KindScan:
		return scanFields
	case domain.KindDetector:
		return detectorFields
	}
	return nil
}

// Values maps fields to the runtime strings substituted for them.
type Values map[Field]string

type segment struct {
	literal string
	field   Field
}

// Template is a parsed path template ready for rendering.
type Template struct {
	kind     domain.TemplateKind
	content  string
	segments []segment
}

// Parse validates content against the kind's field set and returns a
// renderable template. Unknown tokens fail with ErrUnresolvedPlaceholder so
// bad templates are rejected at write time rather than on the hot path.
func Parse(kind domain.TemplateKind, content string) (Template, error) {
	if strings.TrimSpace(content) == "" {
		return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "content is empty"}
	}
	allowed := FieldsFor(kind)
	if allowed == nil {
		return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "unknown template kind " + string(kind)}
	}
	var segments []segment
	rest := content
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "unmatched '}'"}
			}
			segments = append(segments, segment{literal: rest})
			break
		}
		if open > 0 {
			lit := rest[:open]
			if strings.IndexByte(lit, '}') >= 0 {
				return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "unmatched '}'"}
			}
			segments = append(segments, segment{literal: lit})
		}
		rest = rest[open+1:]
		close := strings.IndexByte(rest, '}')
		if close < 0 {
			return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "unmatched '{'"}
		}
		token := rest[:close]
		if token == "" {
			return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "empty placeholder"}
		}
		if strings.IndexByte(token, '{') >= 0 {
			return Template{}, domain.ErrInvalidTemplate{Template: content, Reason: "nested '{'"}
		}
		if _, ok := allowed[Field(token)]; !ok {
			return Template{}, domain.ErrUnresolvedPlaceholder{Token: token, Template: content}
		}
		segments = append(segments, segment{field: Field(token)})
		rest = rest[close+1:]
	}
	return Template{kind: kind, content: content, segments: segments}, nil
}

// Kind returns the template kind this template was parsed for.
func (t Template) Kind() domain.TemplateKind { return t.kind }

// Content returns the raw template text.
func (t Template) Content() string { return t.content }

// Render substitutes every placeholder with its attached value. A recognised
// field with no value in the map fails ErrUnresolvedPlaceholder: output
// strings become real file-system paths, so nothing is ever guessed.
// Rendering is literal token replacement and fully deterministic.
func (t Template) Render(values Values) (string, error) {
	var b strings.Builder
	b.Grow(len(t.content))
	for _, seg := range t.segments {
		if seg.field == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.field]
		if !ok {
			return "", domain.ErrUnresolvedPlaceholder{Token: string(seg.field), Template: t.content}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// Fields returns the distinct placeholder fields used by the template.
func (t Template) Fields() []Field {
	seen := make(map[Field]struct{}, len(t.segments))
	var out []Field
	for _, seg := range t.segments {
		if seg.field == "" {
			continue
		}
		if _, ok := seen[seg.field]; ok {
			continue
		}
		seen[seg.field] = struct{}{}
		out = append(out, seg.field)
	}
	return out
}
