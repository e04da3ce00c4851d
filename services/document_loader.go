package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"conversepdf/internal/apperr"
	"conversepdf/internal/logger"
)

// DefaultMaxDocumentSize caps the bytes read for a single document.
const DefaultMaxDocumentSize = 200 << 20

// SupportedExtension reports whether the loader can read files named like path.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt", ".md":
		return true
	}
	return false
}

// DocumentLoader reads local PDF and plain text documents into page texts.
type DocumentLoader struct {
	maxSize int64
	logger  *slog.Logger
}

func NewDocumentLoader(maxSize int64, log *slog.Logger) *DocumentLoader {
	if maxSize <= 0 {
		maxSize = DefaultMaxDocumentSize
	}
	return &DocumentLoader{maxSize: maxSize, logger: logger.Or(log)}
}

// Load returns one text per page for PDFs and a single page for text files.
func (l *DocumentLoader) Load(ctx context.Context, reference string) ([]string, error) {
	const op = "loader.load"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(reference))
	if !SupportedExtension(reference) {
		return nil, apperr.Errorf(apperr.KindDocumentRead, op, "unsupported document type %q", ext)
	}

	stat, err := os.Stat(reference)
	if err != nil {
		return nil, apperr.E(apperr.KindDocumentRead, op, err)
	}
	if stat.IsDir() {
		return nil, apperr.Errorf(apperr.KindDocumentRead, op, "%s is a directory", reference)
	}
	if stat.Size() > l.maxSize {
		return nil, apperr.Errorf(apperr.KindDocumentRead, op, "%s is %d bytes, limit is %d", reference, stat.Size(), l.maxSize)
	}

	content, err := os.ReadFile(reference)
	if err != nil {
		return nil, apperr.E(apperr.KindDocumentRead, op, err)
	}

	if ext != ".pdf" {
		return []string{strings.ToValidUTF8(string(content), "")}, nil
	}

	pages, err := l.extractPDFPages(content)
	if err != nil {
		return nil, apperr.E(apperr.KindDocumentRead, op, fmt.Errorf("%s: %w", filepath.Base(reference), err))
	}
	if len(pages) == 0 {
		l.logger.Warn("pdf contains no extractable text", "document", reference)
	}
	return pages, nil
}

// extractPDFPages reads each page's plain text. The parser panics on some
// malformed files, so panics are turned into errors.
func (l *DocumentLoader) extractPDFPages(content []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			l.logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}
	return pages, nil
}
