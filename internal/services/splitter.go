package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageKind tells the analyzer how to label a page unit's payload.
type PageKind string

const (
	KindDocumentPage PageKind = "document_page"
	KindImage        PageKind = "image"
)

const (
	pdfMediaType          = "application/pdf"
	fallbackImageMimeType = "image/jpeg"
)

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// PageUnit is one page's worth of content prepared for independent analysis.
type PageUnit struct {
	Kind      PageKind
	Data      []byte
	MediaType string
}

// MimeType returns the media type sent alongside the unit's bytes.
func (u PageUnit) MimeType() string {
	if u.Kind == KindImage {
		if u.MediaType != "" {
			return u.MediaType
		}
		return fallbackImageMimeType
	}
	return pdfMediaType
}

// PageCountReporter records the page count of a job once it is known.
type PageCountReporter func(ctx context.Context, n int) error

// Splitter decomposes an uploaded source into ordered page units.
type Splitter struct {
	logger *slog.Logger
}

func NewSplitter(logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{logger: logger}
}

// Split returns the page units of data in page order and reports the page count before returning them.
func (s *Splitter) Split(ctx context.Context, data []byte, mediaType, source string, report PageCountReporter) ([]PageUnit, error) {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	logCtx := s.logger.With("source", source, "contentType", mediaType)

	var units []PageUnit
	switch {
	case strings.Contains(mt, "pdf"):
		pages, err := splitPDF(data)
		if err != nil {
			return nil, &SplitError{Source: source, Err: err}
		}
		logCtx.Info("Processing as PDF file.", "pageCount", len(pages))
		units = pages
	case strings.Contains(mt, "image"):
		logCtx.Info("Processing image directly.")
		units = []PageUnit{{Kind: KindImage, Data: data, MediaType: mediaType}}
	case mt == "" && imageExtensions[strings.ToLower(filepath.Ext(source))] != "":
		guessed := imageExtensions[strings.ToLower(filepath.Ext(source))]
		logCtx.Info("Processing image by file extension.", "guessedType", guessed)
		units = []PageUnit{{Kind: KindImage, Data: data, MediaType: guessed}}
	default:
		logCtx.Warn("Unknown content type. Attempting to process as a single-page PDF.")
		units = []PageUnit{{Kind: KindDocumentPage, Data: data}}
	}

	if err := report(ctx, len(units)); err != nil {
		return nil, fmt.Errorf("failed to record page count: %w", err)
	}
	return units, nil
}

func newPDFConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// splitPDF extracts every page of a PDF into its own single-page document.
func splitPDF(data []byte) ([]PageUnit, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), newPDFConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if pageCount < 1 {
		return nil, errors.New("document has no pages")
	}

	spans, err := api.SplitRaw(bytes.NewReader(data), 1, newPDFConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to split document: %w", err)
	}
	if len(spans) != pageCount {
		return nil, fmt.Errorf("split produced %d pages, expected %d", len(spans), pageCount)
	}

	units := make([]PageUnit, 0, len(spans))
	for _, span := range spans {
		page, err := io.ReadAll(span.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d: %w", span.From, err)
		}
		units = append(units, PageUnit{Kind: KindDocumentPage, Data: page, MediaType: pdfMediaType})
	}
	return units, nil
}
