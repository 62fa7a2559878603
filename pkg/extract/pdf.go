package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PDFExtractor reads a local PDF file by shelling out to pdftotext
// (poppler-utils). Proper layout-aware extraction is delegated to that
// external tool rather than reimplemented here.
type PDFExtractor struct {
	// Binary is the pdftotext executable. Defaults to "pdftotext" on PATH.
	Binary string
}

var _ Extractor = (*PDFExtractor)(nil)

// NewPDFExtractor creates a PDFExtractor using pdftotext from PATH.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{Binary: "pdftotext"}
}

// Extract implements Extractor. source is a local file path.
func (e *PDFExtractor) Extract(ctx context.Context, source string) (*Result, error) {
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("extract: pdf %s: %w", source, err)
	}

	bin := e.Binary
	if bin == "" {
		bin = "pdftotext"
	}

	// "-" writes the text to stdout.
	cmd := exec.CommandContext(ctx, bin, "-layout", source, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("extract: pdftotext %s: %w: %s", source, err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return nil, fmt.Errorf("extract: pdf %s yielded no text", source)
	}

	return &Result{Text: text, Attribution: filepath.Base(source)}, nil
}
