package textinput

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSource_Read(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "in.txt")
	if err := os.WriteFile(txt, []byte("  from a file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pdfPath := filepath.Join(dir, "in.PDF")
	if err := os.WriteFile(pdfPath, buildPDF("from a pdf"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		src  Source
		want string
	}{
		{"args joined", Source{Args: []string{"hello", "world"}}, "hello world"},
		{"args win over stdin", Source{Args: []string{"a"}, Stdin: strings.NewReader("b")}, "a"},
		{"text file", Source{Path: txt}, "from a file"},
		{"pdf file by extension", Source{Path: pdfPath}, "from a pdf"},
		{"stdin text", Source{Stdin: strings.NewReader("\tpiped text \n")}, "piped text"},
		{"stdin pdf", Source{Stdin: bytes.NewReader(buildPDF("piped pdf"))}, "piped pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.src.Read()
			if err != nil {
				t.Fatalf("Read() returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Read() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSource_ReadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want error
	}{
		{"nothing given", Source{}, ErrNoText},
		{"blank args", Source{Args: []string{" ", "\n"}}, ErrNoText},
		{"blank stdin", Source{Stdin: strings.NewReader("   ")}, ErrNoText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.src.Read(); !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := (Source{Path: filepath.Join(t.TempDir(), "nope.txt")}).Read(); err == nil {
		t.Error("Read() accepted a missing file")
	}
}
