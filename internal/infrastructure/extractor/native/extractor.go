// Package native parses PDF and DOCX blobs into plain text.
package native

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/kirillkom/docdesk/internal/core/domain"
	"github.com/kirillkom/docdesk/internal/core/ports"
	"github.com/kirillkom/docdesk/internal/infrastructure/extractor"
)

type Extractor struct {
	blobs ports.BlobStore
}

func NewExtractor(blobs ports.BlobStore) *Extractor {
	return &Extractor{blobs: blobs}
}

func (e *Extractor) Extract(ctx context.Context, storageKey string, fileType domain.FileType) (string, error) {
	if !fileType.Supported() {
		return "", domain.WrapError(domain.ErrUnsupportedFileType, "extract content", fmt.Errorf("type=%q", fileType))
	}
	raw, err := extractor.ReadBlob(ctx, e.blobs, storageKey)
	if err != nil {
		return "", err
	}
	return ExtractBytes(raw, fileType)
}

// ExtractBytes parses an in-memory document.
func ExtractBytes(data []byte, fileType domain.FileType) (string, error) {
	var (
		text string
		err  error
	)
	switch fileType {
	case domain.FileTypePDF:
		text, err = extractPDF(data)
	case domain.FileTypeDOCX:
		text, err = extractDOCX(data)
	default:
		return "", domain.WrapError(domain.ErrUnsupportedFileType, "extract content", fmt.Errorf("type=%q", fileType))
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrExtractionFailed, "extract "+string(fileType), err)
	}
	return strings.TrimSpace(text), nil
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// extractDOCX reads word/document.xml through the docx package; the package
// also requires the document relationships part every Word file carries.
func extractDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer doc.Close()

	return documentXMLText(strings.NewReader(doc.Editable().GetContent()))
}

// documentXMLText collects w:t runs, breaking lines at paragraphs and tabs.
func documentXMLText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var buf strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				buf.WriteString("\t")
			case "br":
				buf.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteString("\n")
			}
		}
	}
	return buf.String(), nil
}
