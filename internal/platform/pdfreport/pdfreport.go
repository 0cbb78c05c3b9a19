// Package pdfreport renders submission reports as A4 PDF documents.
package pdfreport

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	Title = "Dental Submission Report"

	// Bounding box for the embedded annotated image, in points.
	ImageBoxWidth  = 500.0
	ImageBoxHeight = 400.0

	margin     = 40.0
	lineHeight = 18.0
	labelWidth = 110.0
)

var ErrInvalidImage = errors.New("annotated image could not be decoded")

// Data is the content of one report.
type Data struct {
	SubmissionID      string
	PatientName       string
	PatientID         string
	Email             string
	Note              string
	OriginalImageURL  string
	AnnotatedImageURL string
	// AnnotatedImage, when non-empty, is embedded below the details.
	AnnotatedImage []byte
	GeneratedAt    time.Time
}

// Generator renders reports. The zero value is not usable; call New.
type Generator struct {
	compress bool
}

func New() *Generator {
	return &Generator{compress: true}
}

// Generate renders d and returns the PDF bytes.
func (g *Generator) Generate(d Data) ([]byte, error) {
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = time.Now()
	}

	var embedded *pngImage
	if len(d.AnnotatedImage) > 0 {
		img, err := toPNG(d.AnnotatedImage)
		if err != nil {
			return nil, err
		}
		embedded = img
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetCompression(g.compress)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.SetCreationDate(d.GeneratedAt)
	pdf.SetTitle(Title, true)
	pdf.SetCreator("dentrecord", false)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 30, Title, "", 1, "C", false, 0, "")
	pdf.Ln(10)

	field := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(labelWidth, lineHeight, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, lineHeight, tr(value), "", "L", false)
	}
	link := func(label, url string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(labelWidth, lineHeight, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "U", 10)
		pdf.SetTextColor(0, 0, 200)
		pdf.CellFormat(0, lineHeight, url, "", 1, "L", false, 0, url)
		pdf.SetTextColor(0, 0, 0)
	}

	field("Patient Name:", d.PatientName)
	field("Patient ID:", d.PatientID)
	field("Email:", d.Email)

	note := strings.TrimSpace(d.Note)
	if note == "" {
		note = "N/A"
	}
	field("Note:", note)

	if d.SubmissionID != "" {
		field("Submission:", d.SubmissionID)
	}
	link("Original Image:", d.OriginalImageURL)
	if d.AnnotatedImageURL != "" {
		link("Annotated Image:", d.AnnotatedImageURL)
	}
	field("Generated:", d.GeneratedAt.UTC().Format(time.RFC1123))

	if embedded != nil {
		placeImage(pdf, embedded)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// placeImage draws img inside an ImageBoxWidth x ImageBoxHeight box centred
// on the page, starting a new page when the box does not fit below the text.
func placeImage(pdf *fpdf.Fpdf, img *pngImage) {
	pageW, pageH := pdf.GetPageSize()

	boxX := (pageW - ImageBoxWidth) / 2
	boxY := pdf.GetY() + 20
	if boxY+ImageBoxHeight > pageH-margin {
		pdf.AddPage()
		boxY = margin
	}

	w, h := FitInBox(float64(img.width), float64(img.height), ImageBoxWidth, ImageBoxHeight)
	x := boxX + (ImageBoxWidth-w)/2
	y := boxY + (ImageBoxHeight-h)/2

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("annotated", opts, bytes.NewReader(img.data))
	pdf.ImageOptions("annotated", x, y, w, h, false, opts, 0, "")
	pdf.SetY(boxY + ImageBoxHeight)
}

// FitInBox scales (w, h) up or down to the largest size that fits in
// (boxW, boxH) while keeping the aspect ratio.
func FitInBox(w, h, boxW, boxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := boxW / w
	if s := boxH / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}

type pngImage struct {
	data          []byte
	width, height int
}

// toPNG decodes any registered image format and re-encodes it as PNG.
func toPNG(data []byte) (*pngImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &pngImage{data: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}
