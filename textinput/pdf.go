package textinput

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoPDFContent is returned when a PDF contains no extractable text.
var ErrNoPDFContent = errors.New("no text content found in PDF")

// PDFExtraction is the text of a PDF plus page accounting.
type PDFExtraction struct {
	Text           string
	TotalPages     int
	ExtractedPages int
	SkippedPages   int
	PageErrors     []error
}

// PDFExtractor pulls plain text out of PDF documents.
type PDFExtractor struct {
	// MaxPages limits extraction to the first N pages (0 for all pages).
	MaxPages int
	// PageSeparator is inserted between page texts. Defaults to "\n\n".
	PageSeparator string
}

// NewPDFExtractor returns an extractor that reads every page.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{PageSeparator: "\n\n"}
}

// ExtractFile extracts text from the PDF at path.
func (e *PDFExtractor) ExtractFile(path string) (*PDFExtraction, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()
	return e.extract(r)
}

// ExtractBytes extracts text from an in-memory PDF, e.g. one piped on stdin.
func (e *PDFExtractor) ExtractBytes(data []byte) (*PDFExtraction, error) {
	return e.ExtractReader(bytes.NewReader(data), int64(len(data)))
}

// ExtractReader extracts text from a PDF of the given size.
func (e *PDFExtractor) ExtractReader(ra io.ReaderAt, size int64) (*PDFExtraction, error) {
	r, err := pdf.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return e.extract(r)
}

func (e *PDFExtractor) extract(r *pdf.Reader) (*PDFExtraction, error) {
	sep := e.PageSeparator
	if sep == "" {
		sep = "\n\n"
	}

	total := r.NumPage()
	res := &PDFExtraction{TotalPages: total}

	pages := total
	if e.MaxPages > 0 && e.MaxPages < total {
		pages = e.MaxPages
	}

	var sb strings.Builder
	// Pages are 1-indexed.
	for i := 1; i <= pages; i++ {
		text, err := pageText(r, i)
		if err != nil {
			res.PageErrors = append(res.PageErrors, fmt.Errorf("page %d: %w", i, err))
			res.SkippedPages++
			continue
		}
		if text == "" {
			res.SkippedPages++
			continue
		}
		res.ExtractedPages++
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(text)
	}

	res.Text = sb.String()
	if res.Text == "" {
		return res, ErrNoPDFContent
	}
	return res, nil
}

func pageText(r *pdf.Reader, i int) (string, error) {
	p := r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
