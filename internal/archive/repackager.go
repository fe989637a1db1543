package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"invoice-relay-go/internal/model"
)

// RepackageError signals that the vendor-bound ZIP did not contain exactly
// one publishable document.
type RepackageError struct {
	Reason string
}

func (e *RepackageError) Error() string {
	return "repackage failed: " + e.Reason
}

// Repackage opens the compressed attachment in memory, locates the single PDF
// inside, and returns it renamed to "<number>_<amount-digits>.pdf". Zero or
// several PDF members is an error; the archive is never written to disk.
func Repackage(blob []byte, invoice model.InvoiceRecord) (model.ProcessedDocument, error) {
	reader, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return model.ProcessedDocument{}, &RepackageError{Reason: fmt.Sprintf("not a zip archive: %v", err)}
	}

	var pdf *zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".pdf") {
			continue
		}
		if pdf != nil {
			return model.ProcessedDocument{}, &RepackageError{Reason: "archive contains more than one PDF"}
		}
		pdf = f
	}
	if pdf == nil {
		return model.ProcessedDocument{}, &RepackageError{Reason: "archive contains no PDF"}
	}

	rc, err := pdf.Open()
	if err != nil {
		return model.ProcessedDocument{}, &RepackageError{Reason: fmt.Sprintf("open %s: %v", pdf.Name, err)}
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return model.ProcessedDocument{}, &RepackageError{Reason: fmt.Sprintf("read %s: %v", pdf.Name, err)}
	}

	return model.ProcessedDocument{
		OriginalName: pdf.Name,
		Name:         invoice.PDFName(),
		Content:      content,
	}, nil
}
