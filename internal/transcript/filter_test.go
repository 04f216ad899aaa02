package transcript

import "testing"

func TestAnnotationFilter(t *testing.T) {
	f := NewAnnotationFilter()

	tests := []struct {
		text string
		want bool
	}{
		{"(music)", true},
		{"[Applause]", true},
		{"*laughs*", true},
		{"(background noise)", true},
		{"this is [inaudible] today", true},
		{"there was crosstalk here", true},
		{"BLANK AUDIO", true},
		{"speaking a foreign language", true},
		{"hello world", false},
		{"we met (briefly) yesterday", false}, // delimiters must wrap the whole string
		{"a*b", false},
		{"**", false}, // too short to be a paired-asterisk annotation
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := f.IsAnnotation(tt.text); got != tt.want {
				t.Errorf("IsAnnotation(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestAnnotationFilter_ExtraMarkers(t *testing.T) {
	f := NewAnnotationFilter("Jingle")
	if !f.IsAnnotation("cue the jingle") {
		t.Error("IsAnnotation() = false, want true for extra marker (case-insensitive)")
	}
}
