package transcript

import "strings"

// Filter decides whether a final transcript string is a non-speech
// annotation rather than spoken words. Swappable: the delimiter/marker
// heuristic below is best-effort and may suppress legitimate bracketed
// speech.
type Filter interface {
	IsAnnotation(text string) bool
}

// nonSpeechMarkers are substrings recognizers emit for acoustic events.
var nonSpeechMarkers = []string{
	"inaudible",
	"crosstalk",
	"blank audio",
	"blank_audio",
	"foreign language",
}

// AnnotationFilter is the default Filter: strings entirely wrapped in
// matching delimiters, or containing a known non-speech marker, are
// annotations.
type AnnotationFilter struct {
	markers []string
}

// NewAnnotationFilter builds the default filter. Extra markers extend the
// built-in list.
func NewAnnotationFilter(extraMarkers ...string) *AnnotationFilter {
	markers := make([]string, 0, len(nonSpeechMarkers)+len(extraMarkers))
	markers = append(markers, nonSpeechMarkers...)
	for _, m := range extraMarkers {
		markers = append(markers, strings.ToLower(m))
	}
	return &AnnotationFilter{markers: markers}
}

func (f *AnnotationFilter) IsAnnotation(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}

	if wrappedIn(t, "(", ")") || wrappedIn(t, "[", "]") {
		return true
	}
	// Paired asterisks: *laughs*
	if len(t) > 2 && strings.HasPrefix(t, "*") && strings.HasSuffix(t, "*") {
		return true
	}

	lower := strings.ToLower(t)
	for _, m := range f.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func wrappedIn(t, open, close string) bool {
	return len(t) > 2 && strings.HasPrefix(t, open) && strings.HasSuffix(t, close)
}
