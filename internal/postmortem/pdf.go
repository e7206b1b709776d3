package postmortem

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

const (
	pdfMargin        = 72.0
	pdfEvidenceInset = 18.0
	pdfEvidenceLimit = 120
)

var (
	colorHeading = [3]int{30, 58, 95}
	colorText    = [3]int{44, 62, 80}
	colorMuted   = [3]int{127, 140, 141}
)

// PDFWriter lays out a postmortem on letter-sized pages.
type PDFWriter struct{}

// NewPDFWriter creates a PDF writer.
func NewPDFWriter() *PDFWriter {
	return &PDFWriter{}
}

// Write renders pm and returns the document bytes.
func (w *PDFWriter) Write(pm models.Postmortem) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(fmt.Sprintf("Postmortem: Incident %d", pm.Incident.ID), true)
	pdf.SetCreationDate(pm.GeneratedAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(colorHeading[0], colorHeading[1], colorHeading[2])
	pdf.CellFormat(0, 24, tr(fmt.Sprintf("Postmortem: Incident %d", pm.Incident.ID)), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(colorText[0], colorText[1], colorText[2])
	inc := pm.Incident
	details := []string{
		"Service: " + inc.Service,
		"Metric: " + inc.Metric,
		"Severity: " + strconv.Itoa(inc.Severity),
		"Window: " + formatTime(inc.WindowStart) + " - " + formatTime(inc.WindowEnd),
		"Baseline vs Observed: " + formatFloat(inc.Baseline) + " -> " + formatFloat(inc.Observed),
	}
	for _, line := range details {
		pdf.CellFormat(0, 16, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	writeHeading(pdf, "Hypotheses")
	if len(pm.Analysis.Hypotheses) == 0 {
		pdf.CellFormat(0, 14, "(no data)", "", 1, "L", false, 0, "")
	}
	for _, h := range pm.Analysis.Hypotheses {
		pdf.CellFormat(0, 14, tr(fmt.Sprintf("- %s (%d%%)", h.Title, h.Confidence)), "", 1, "L", false, 0, "")
		pdf.SetTextColor(colorMuted[0], colorMuted[1], colorMuted[2])
		for _, ev := range h.Evidence {
			pdf.SetX(pdfMargin + pdfEvidenceInset)
			line := fmt.Sprintf("* %s: %s", ev.Kind, truncate(ev.Detail, pdfEvidenceLimit))
			pdf.CellFormat(0, 12, tr(line), "", 1, "L", false, 0, "")
		}
		pdf.SetTextColor(colorText[0], colorText[1], colorText[2])
	}

	writeHeading(pdf, "Action Items")
	for _, item := range pm.ActionItems {
		pdf.CellFormat(0, 14, tr("- "+item), "", 1, "L", false, 0, "")
	}

	writeHeading(pdf, "Timeline")
	for _, entry := range pm.Timeline {
		pdf.CellFormat(0, 14, tr(fmt.Sprintf("- %s: %s", entry.Label, formatTime(entry.Timestamp))), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeading(pdf *fpdf.Fpdf, title string) {
	_, pageHeight := pdf.GetPageSize()
	if pdf.GetY() > pageHeight-120 {
		pdf.AddPage()
	}
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetTextColor(colorHeading[0], colorHeading[1], colorHeading[2])
	pdf.CellFormat(0, 18, title, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(colorText[0], colorText[1], colorText[2])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
