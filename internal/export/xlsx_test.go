package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/davidhora/notula/internal/transcript"
)

func intPtr(v int) *int { return &v }

func testSession() *transcript.RecordingSession {
	return &transcript.RecordingSession{
		ID: "s1",
		Segments: []transcript.TranscriptSegment{
			{Timestamp: 2, Text: "good morning", SpeakerID: intPtr(0), Confidence: 0.95, IsFinal: true, Source: "microphone"},
			{Timestamp: 65, Text: "hi, can you hear me", SpeakerID: intPtr(1000), Confidence: 0.9, IsFinal: true, Source: "system"},
			{Timestamp: 3700, Text: "wrapping up", Confidence: 0.8, IsFinal: true, Source: "microphone"},
		},
		Speakers: []transcript.Speaker{
			{ID: 0, Name: "Ada"},
			{ID: 1000},
		},
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, testSession()); err != nil {
		t.Fatalf("WriteXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reading workbook back: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(transcriptSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("len(rows) = %d, want header + 3 segments", len(rows))
	}
	if rows[1][1] != "Ada" {
		t.Errorf("row 1 speaker = %q, want Ada", rows[1][1])
	}
	if rows[2][1] != "Remote 1" {
		t.Errorf("row 2 speaker = %q, want Remote 1 for unnamed system speaker", rows[2][1])
	}
	if rows[3][0] != "1:01:40" {
		t.Errorf("row 3 time = %q, want 1:01:40", rows[3][0])
	}

	speakers, err := f.GetRows("Speakers")
	if err != nil {
		t.Fatalf("GetRows(Speakers) error = %v", err)
	}
	if len(speakers) != 3 {
		t.Errorf("speaker rows = %d, want header + 2", len(speakers))
	}
}

func TestExportText(t *testing.T) {
	got := ExportText(testSession())
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if lines[0] != "[0:02] Ada: good morning" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[2], "Unknown: wrapping up") {
		t.Errorf("line 2 = %q, want Unknown attribution", lines[2])
	}
}
