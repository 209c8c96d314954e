package template

import (
	"path"
	"strings"

	"scantrack/pkg/domain"
)

// NormalizeDetector replaces every non-alphanumeric rune in a detector name
// with '_' so the name is safe inside a file name. Names that normalise to
// the same string produce the same path.
func NormalizeDetector(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ProposalOf returns the proposal portion of a visit identifier: everything
// before the first '-', or the whole identifier when there is none.
func ProposalOf(visit string) string {
	if i := strings.IndexByte(visit, '-'); i >= 0 {
		return visit[:i]
	}
	return visit
}

// CleanSubdirectory validates a caller-supplied subdirectory. Absolute paths
// and parent references are rejected; '.' components are dropped. The empty
// string is a valid subdirectory.
func CleanSubdirectory(sub string) (string, error) {
	if sub == "" {
		return "", nil
	}
	if strings.HasPrefix(sub, "/") {
		return "", domain.ErrInvalidSubdirectory{Segment: "/"}
	}
	var parts []string
	for _, seg := range strings.Split(sub, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", domain.ErrInvalidSubdirectory{Segment: ".."}
		default:
			parts = append(parts, seg)
		}
	}
	return path.Join(parts...), nil
}
