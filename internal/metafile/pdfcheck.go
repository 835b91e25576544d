package metafile

import (
	"bytes"
	"fmt"

	pdf "github.com/ledongthuc/pdf"
)

// CheckPDF verifies that a payload opens as a structurally valid PDF. The
// pipeline installs it via WithPDFCheck; tests that only exercise metadata
// rules construct parsers without it.
func CheckPDF(data []byte) error {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("pdf has no pages")
	}
	return nil
}
