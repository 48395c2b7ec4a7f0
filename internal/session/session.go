// Package session opens a document payload as a structured document exactly
// once per logical use. Sessions are cheap, short-lived wrappers: open, read
// what you need, close. They are never retained across calls.
package session

import (
	"fmt"

	"github.com/mhismail3/pdfcombiner/internal/domain"
)

// Session is one open document. Not safe for concurrent use; each call path
// opens its own.
type Session struct {
	handle      domain.DocumentHandle
	fingerprint string
	closed      bool
}

// Open parses the payload through the rendering engine. Fails with
// ErrUnreadableDocument, ErrPasswordProtected or ErrEmptyDocument.
func Open(engine domain.RenderEngine, p *domain.DocumentPayload) (*Session, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, fmt.Errorf("open session: %w", domain.ErrUnreadableDocument)
	}

	handle, err := engine.Open(p.Data)
	if err != nil {
		return nil, err
	}
	return &Session{handle: handle, fingerprint: p.Fingerprint}, nil
}

// Fingerprint returns the cache namespace of the opened document.
func (s *Session) Fingerprint() string {
	return s.fingerprint
}

// PageCount returns the number of pages, always >= 1.
func (s *Session) PageCount() int {
	return s.handle.PageCount()
}

// Metadata returns document-level metadata.
func (s *Session) Metadata() domain.DocumentMetadata {
	return s.handle.Metadata()
}

// PageGeometry computes page dimensions scaled to the target size.
// pageNumber is 1-based and validated against PageCount; out-of-range
// requests fail with ErrPageOutOfRange, they are never clamped.
func (s *Session) PageGeometry(pageNumber int, target domain.ThumbnailOptions) (domain.PageGeometry, error) {
	if pageNumber < 1 || pageNumber > s.handle.PageCount() {
		return domain.PageGeometry{}, fmt.Errorf("page %d of %d: %w",
			pageNumber, s.handle.PageCount(), domain.ErrPageOutOfRange)
	}

	pageW, pageH, err := s.handle.PageBounds(pageNumber)
	if err != nil {
		return domain.PageGeometry{}, err
	}
	if pageW <= 0 || pageH <= 0 {
		return domain.PageGeometry{}, fmt.Errorf("page %d: degenerate bounds: %w",
			pageNumber, domain.ErrRenderFailure)
	}

	scale := 1.0
	if target.Width > 0 {
		scale = float64(target.Width) / pageW
	}
	width := target.Width
	if width < 1 {
		width = int(pageW)
	}
	height := target.Height
	if height < 1 {
		// Auto height keeps the page aspect ratio.
		height = int(pageH * scale)
	}

	return domain.PageGeometry{
		PageNumber: pageNumber,
		Width:      width,
		Height:     height,
		Scale:      scale,
	}, nil
}

// Handle exposes the underlying engine handle for rendering and text
// extraction.
func (s *Session) Handle() domain.DocumentHandle {
	return s.handle
}

// Close releases the engine handle. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.handle.Close()
}
