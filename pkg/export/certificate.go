package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData carries everything printed on a completion certificate.
type CertificateData struct {
	StudentName   string
	CourseTitle   string
	IssuedAtDate  string
	CertificateID string
}

// CertificateRenderer renders completion certificates as landscape PDFs.
type CertificateRenderer struct{}

// NewCertificateRenderer constructs a certificate renderer.
func NewCertificateRenderer() *CertificateRenderer {
	return &CertificateRenderer{}
}

// Render produces the certificate PDF bytes. The function is pure: same
// input, same document.
func (r *CertificateRenderer) Render(data CertificateData) ([]byte, error) {
	if data.StudentName == "" || data.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires student name and course title")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	width, height := pdf.GetPageSize()

	// Border
	pdf.SetDrawColor(0, 0, 139)
	pdf.SetLineWidth(1.8)
	pdf.Rect(10, 10, width-20, height-20, "D")

	pdf.SetFont("Helvetica", "B", 36)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(0, 35)
	pdf.CellFormat(width, 14, "Certificate of Completion", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 18)
	pdf.SetXY(0, 60)
	pdf.CellFormat(width, 10, "This is to certify that", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 30)
	pdf.SetTextColor(0, 0, 139)
	pdf.SetXY(0, 78)
	pdf.CellFormat(width, 14, data.StudentName, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 18)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(0, 98)
	pdf.CellFormat(width, 10, "has successfully completed the course", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetXY(0, 114)
	pdf.CellFormat(width, 12, data.CourseTitle, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(18, height-18, fmt.Sprintf("Issued: %s", data.IssuedAtDate))
	idLabel := fmt.Sprintf("ID: %s", data.CertificateID)
	idWidth := pdf.GetStringWidth(idLabel)
	pdf.Text(width-18-idWidth, height-18, idLabel)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
