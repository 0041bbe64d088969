package layer

// SourceKind tags a payload with the provenance the upstream declared for it.
type SourceKind string

const (
	SourceReal     SourceKind = "real"
	SourceFallback SourceKind = "fallback"
	SourceUnknown  SourceKind = "unknown"
)

// ParseSourceKind maps the upstream's declared dataSource flag to a
// SourceKind. An absent or unrecognized flag is never assumed to be real;
// the second return reports whether the flag was recognized.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch SourceKind(s) {
	case SourceReal:
		return SourceReal, true
	case SourceFallback:
		return SourceFallback, true
	case SourceUnknown:
		return SourceUnknown, true
	}
	return SourceUnknown, false
}

func (s SourceKind) String() string {
	return string(s)
}
