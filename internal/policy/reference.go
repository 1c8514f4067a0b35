package policy

import "strings"

// Reference is a parsed "$<source>.<dotted.path>" value string, as used in
// §4.1 for principal/context/resource cross-references inside a leaf's Val.
type Reference struct {
	Source Source
	Path   []string
}

// ParseReference parses a raw Val string of the form "$source.a.b.c". It
// returns ok=false if s does not begin with '$' (i.e. it is an ordinary
// literal, not a reference).
func ParseReference(s string) (Reference, bool, error) {
	if !strings.HasPrefix(s, "$") {
		return Reference{}, false, nil
	}
	rest := s[1:]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return Reference{}, true, errNewReference("reference %q has no attribute path", s)
	}
	src := Source(rest[:dot])
	if !src.valid() {
		return Reference{}, true, errNewReference("reference %q has unknown source %q", s, src)
	}
	path := SplitPath(rest[dot+1:])
	if len(path) == 0 {
		return Reference{}, true, errNewReference("reference %q has an empty attribute path", s)
	}
	for _, seg := range path {
		if seg == "" {
			return Reference{}, true, errNewReference("reference %q contains an empty path segment", s)
		}
		// References are one hop: the path itself must not re-enter the
		// reference syntax (no "$" re-indirection), per spec §4.1.
		if strings.HasPrefix(seg, "$") {
			return Reference{}, true, errNewReference("reference %q contains nested indirection, which is not allowed", s)
		}
	}
	return Reference{Source: src, Path: path}, true, nil
}

// SplitPath splits a dotted attribute path ("a.b.c") into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func errNewReference(format string, args ...any) error {
	return newInvalidPolicyf(format, args...)
}
