package domain

import "context"

// RenderEngine is the external rendering collaborator. It parses document
// bytes and rasterizes pages; everything else in the pipeline treats it as
// opaque.
type RenderEngine interface {
	// Open parses the document bytes into a handle. Fails with
	// ErrUnreadableDocument, ErrPasswordProtected or ErrEmptyDocument.
	Open(data []byte) (DocumentHandle, error)
}

// DocumentHandle is an open document. Handles are opened lazily per
// operation or fetch and closed immediately after use, never retained.
type DocumentHandle interface {
	// PageCount returns the number of pages, always >= 1 for an open handle.
	PageCount() int

	// Metadata returns document-level metadata.
	Metadata() DocumentMetadata

	// PageBounds returns the intrinsic page size in points, 1-based.
	PageBounds(pageNumber int) (width, height float64, err error)

	// RenderPage rasterizes one page to encoded image bytes at the target
	// size. Height 0 derives the height from the page aspect ratio.
	RenderPage(ctx context.Context, pageNumber, targetWidth, targetHeight, quality int) ([]byte, error)

	// Close releases all native resources held by the handle.
	Close() error
}

// TextExtractor is an optional capability of a DocumentHandle. Handles that
// implement it can serve ExtractPageData with text included.
type TextExtractor interface {
	// PageText returns the text content of one page, 1-based.
	PageText(pageNumber int) (string, error)
}
