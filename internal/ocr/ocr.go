// Package ocr extracts invoice fields from uploaded documents.
//
// The contract the invoice engine relies on: "nothing found" is never an
// error — extraction returns an Extraction with empty fields. An error means
// a hard I/O or processing failure (unreadable file, recognizer down), which
// the engine absorbs into the manual-review path.
package ocr

import "context"

// Extraction is the best-effort structured result of reading an invoice.
// Empty string / nil fields mean the recognizer found nothing for them.
type Extraction struct {
	// MeterNumber is the heatmeter serial the document appears to mention.
	// Matching against the claim is exact and case-sensitive; the extractor
	// does not normalize.
	MeterNumber   string
	RawText       string
	InvoiceNumber string
	Amount        *float64
	Date          string
	CustomerName  string
}

// Extractor turns a stored file path into an Extraction.
type Extractor interface {
	Extract(ctx context.Context, storedPath string) (Extraction, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, storedPath string) (Extraction, error)

func (f ExtractorFunc) Extract(ctx context.Context, storedPath string) (Extraction, error) {
	return f(ctx, storedPath)
}

// Disabled is the extractor used when no recognizer is configured: every
// upload lands in manual review.
type Disabled struct{}

func (Disabled) Extract(ctx context.Context, storedPath string) (Extraction, error) {
	return Extraction{}, nil
}
