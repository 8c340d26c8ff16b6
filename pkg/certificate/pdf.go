package certificate

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Details carries everything printed on a volunteer certificate.
type Details struct {
	VolunteerName  string
	EventTitle     string
	OrganizerName  string
	EventDate      time.Time
	AttendanceRate float64
	IssuedAt       time.Time
}

// PDFRenderer renders volunteer certificates as A4 landscape PDFs.
type PDFRenderer struct{}

// NewPDFRenderer constructs a certificate renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render produces the certificate document.
func (r *PDFRenderer) Render(d Details) ([]byte, error) {
	if d.VolunteerName == "" || d.EventTitle == "" {
		return nil, fmt.Errorf("certificate requires volunteer name and event title")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetDrawColor(60, 60, 60)
	pdf.SetLineWidth(0.8)
	pdf.Rect(10, 10, 277, 190, "D")

	pdf.SetFont("Arial", "B", 28)
	pdf.CellFormat(0, 18, "CERTIFICATE OF VOLUNTEERING", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 13)
	pdf.CellFormat(0, 8, "This certificate is proudly presented to", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 12, d.VolunteerName, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 13)
	body := fmt.Sprintf("for volunteering at \"%s\"", d.EventTitle)
	pdf.CellFormat(0, 8, body, "", 1, "C", false, 0, "")
	if !d.EventDate.IsZero() {
		pdf.CellFormat(0, 8, fmt.Sprintf("held on %s", d.EventDate.Format("2 January 2006")), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 8, fmt.Sprintf("with an attendance rate of %.1f%%", d.AttendanceRate), "", 1, "C", false, 0, "")
	pdf.Ln(12)

	pdf.SetFont("Arial", "I", 11)
	if d.OrganizerName != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Organized by %s", d.OrganizerName), "", 1, "C", false, 0, "")
	}
	issued := d.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued on %s", issued.Format("2 January 2006")), "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate pdf: %w", err)
	}
	return buf.Bytes(), nil
}
