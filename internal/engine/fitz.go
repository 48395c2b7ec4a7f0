// Package engine adapts MuPDF (via go-fitz) to the domain.RenderEngine
// contract. All parsing and rasterization happens here; the rest of the
// pipeline never touches PDF internals.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"

	"github.com/mhismail3/pdfcombiner/internal/domain"
)

const (
	// basePointDPI is the PDF user-space resolution.
	basePointDPI = 72.0

	defaultJPEGQuality = 80
)

// Fitz is the go-fitz backed rendering engine.
type Fitz struct{}

// NewFitz creates the engine. It holds no state; every Open produces an
// independent handle.
func NewFitz() *Fitz {
	return &Fitz{}
}

// Open parses document bytes into a handle.
func (e *Fitz) Open(data []byte) (domain.DocumentHandle, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, fmt.Errorf("open document: %w", domain.ErrPasswordProtected)
		}
		return nil, fmt.Errorf("open document: %w", domain.ErrUnreadableDocument)
	}

	if doc.NumPage() == 0 {
		doc.Close()
		return nil, fmt.Errorf("open document: %w", domain.ErrEmptyDocument)
	}

	return &fitzHandle{doc: doc}, nil
}

// fitzHandle wraps one open MuPDF document.
type fitzHandle struct {
	doc *fitz.Document
}

func (h *fitzHandle) PageCount() int {
	return h.doc.NumPage()
}

func (h *fitzHandle) Metadata() domain.DocumentMetadata {
	meta := domain.DocumentMetadata{}
	for k, v := range h.doc.Metadata() {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}

func (h *fitzHandle) PageBounds(pageNumber int) (float64, float64, error) {
	if err := h.checkPage(pageNumber); err != nil {
		return 0, 0, err
	}
	// go-fitz pages are 0-based.
	bounds, err := h.doc.Bound(pageNumber - 1)
	if err != nil {
		return 0, 0, fmt.Errorf("page %d bounds: %w", pageNumber, domain.ErrRenderFailure)
	}
	return float64(bounds.Dx()), float64(bounds.Dy()), nil
}

// RenderPage rasterizes a page at the DPI matching the target width and
// encodes it as JPEG. Height 0 follows the page aspect ratio.
func (h *fitzHandle) RenderPage(ctx context.Context, pageNumber, targetWidth, targetHeight, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.checkPage(pageNumber); err != nil {
		return nil, err
	}
	if targetWidth < 1 {
		return nil, fmt.Errorf("render page %d: target width %d: %w", pageNumber, targetWidth, domain.ErrRenderFailure)
	}

	pageW, _, err := h.PageBounds(pageNumber)
	if err != nil {
		return nil, err
	}
	if pageW <= 0 {
		return nil, fmt.Errorf("render page %d: degenerate bounds: %w", pageNumber, domain.ErrRenderFailure)
	}

	dpi := basePointDPI * float64(targetWidth) / pageW
	img, err := h.doc.ImageDPI(pageNumber-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageNumber, domain.ErrRenderFailure)
	}

	if quality < 1 || quality > 100 {
		quality = defaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", pageNumber, domain.ErrRenderFailure)
	}
	return buf.Bytes(), nil
}

// PageText extracts the text content of one page.
func (h *fitzHandle) PageText(pageNumber int) (string, error) {
	if err := h.checkPage(pageNumber); err != nil {
		return "", err
	}
	text, err := h.doc.Text(pageNumber - 1)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", pageNumber, domain.ErrRenderFailure)
	}
	return text, nil
}

func (h *fitzHandle) Close() error {
	return h.doc.Close()
}

func (h *fitzHandle) checkPage(pageNumber int) error {
	if pageNumber < 1 || pageNumber > h.doc.NumPage() {
		return fmt.Errorf("page %d of %d: %w", pageNumber, h.doc.NumPage(), domain.ErrPageOutOfRange)
	}
	return nil
}

// Verify that Fitz implements domain.RenderEngine interface
var _ domain.RenderEngine = (*Fitz)(nil)
