package textinput

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxSourceBytes caps how much is read from stdin or a file.
const MaxSourceBytes = 32 << 20

// ErrNoText is returned when a source yields only whitespace.
var ErrNoText = errors.New("no input text")

var pdfMagic = []byte("%PDF-")

// Source describes where input text comes from. Exactly one of Args, Path or
// Stdin is used, checked in that order.
type Source struct {
	Args  []string
	Path  string
	Stdin io.Reader

	// PDF is used for .pdf files and for stdin data starting with %PDF-.
	// Nil selects NewPDFExtractor().
	PDF *PDFExtractor
}

// Read returns the trimmed input text.
func (s Source) Read() (string, error) {
	var (
		text string
		err  error
	)
	switch {
	case len(s.Args) > 0:
		text = strings.Join(s.Args, " ")
	case s.Path != "":
		text, err = s.readFile(s.Path)
	case s.Stdin != nil:
		text, err = s.readStdin(s.Stdin)
	default:
		return "", ErrNoText
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (s Source) extractor() *PDFExtractor {
	if s.PDF != nil {
		return s.PDF
	}
	return NewPDFExtractor()
}

func (s Source) readFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		res, err := s.extractor().ExtractFile(path)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return s.readStdin(f)
}

func (s Source) readStdin(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes+1))
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if len(data) > MaxSourceBytes {
		return "", fmt.Errorf("input larger than %d bytes", MaxSourceBytes)
	}
	if bytes.HasPrefix(data, pdfMagic) {
		res, err := s.extractor().ExtractBytes(data)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	return string(data), nil
}
