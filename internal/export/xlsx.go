// Package export renders finished sessions into downloadable documents.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/davidhora/notula/internal/transcript"
)

const transcriptSheet = "Transcript"

// WriteXLSX renders one session as a spreadsheet: a transcript sheet with
// timestamps, attributed speakers and confidence, plus a speakers sheet.
func WriteXLSX(w io.Writer, sess *transcript.RecordingSession) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", transcriptSheet)
	headers := []string{"Time", "Speaker", "Text", "Confidence", "Source"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(transcriptSheet, cell, h)
	}

	for row, seg := range sess.Segments {
		values := []any{
			formatOffset(seg.Timestamp),
			speakerLabel(sess, seg.SpeakerID),
			seg.Text,
			fmt.Sprintf("%.2f", seg.Confidence),
			string(seg.Source),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(transcriptSheet, cell, v)
		}
	}
	f.SetColWidth(transcriptSheet, "C", "C", 80)

	if len(sess.Speakers) > 0 {
		const sheet = "Speakers"
		f.NewSheet(sheet)
		f.SetCellValue(sheet, "A1", "ID")
		f.SetCellValue(sheet, "B1", "Name")
		for i, sp := range sess.Speakers {
			f.SetCellValue(sheet, fmt.Sprintf("A%d", i+2), sp.ID)
			name := sp.Name
			if name == "" {
				name = defaultSpeakerLabel(sp.ID)
			}
			f.SetCellValue(sheet, fmt.Sprintf("B%d", i+2), name)
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// ExportText renders the transcript as plain text, one attributed line per
// segment.
func ExportText(sess *transcript.RecordingSession) string {
	var b strings.Builder
	for _, seg := range sess.Segments {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			formatOffset(seg.Timestamp), speakerLabel(sess, seg.SpeakerID), seg.Text)
	}
	return b.String()
}

func speakerLabel(sess *transcript.RecordingSession, id *int) string {
	if id == nil {
		return "Unknown"
	}
	if sp := sess.SpeakerByID(*id); sp != nil && sp.Name != "" {
		return sp.Name
	}
	return defaultSpeakerLabel(*id)
}

// defaultSpeakerLabel names unidentified speakers by their source range.
func defaultSpeakerLabel(id int) string {
	if id >= transcript.SpeakerOffsetSystem {
		return fmt.Sprintf("Remote %d", id-transcript.SpeakerOffsetSystem+1)
	}
	return fmt.Sprintf("Speaker %d", id+1)
}

func formatOffset(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
