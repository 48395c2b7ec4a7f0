// Package pdfops implements whole-document operations (merge, page
// extraction) over in-memory payloads using pdfcpu.
package pdfops

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/mhismail3/pdfcombiner/internal/domain"
	"github.com/mhismail3/pdfcombiner/internal/payload"
)

// conf returns a relaxed-validation pdfcpu configuration. Client-supplied
// documents are frequently slightly malformed; strict validation would
// reject files every other viewer opens.
func conf() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Merge concatenates payloads in order into a single new document.
func Merge(payloads []*domain.DocumentPayload) (*domain.DocumentPayload, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("merge: no input documents: %w", domain.ErrUnreadableDocument)
	}

	readers := make([]io.ReadSeeker, 0, len(payloads))
	names := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if p == nil || len(p.Data) == 0 {
			return nil, fmt.Errorf("merge: empty input: %w", domain.ErrUnreadableDocument)
		}
		readers = append(readers, bytes.NewReader(p.Data))
		names = append(names, p.Name)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, conf()); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(payloads), domain.ErrUnreadableDocument)
	}

	return payload.New(mergedName(names), out.Bytes()), nil
}

// ExtractPages produces a new document containing only the selected 1-based
// pages of p, in the order pdfcpu emits them (ascending).
func ExtractPages(p *domain.DocumentPayload, pageIndices []int) (*domain.DocumentPayload, error) {
	if p == nil || len(p.Data) == 0 {
		return nil, fmt.Errorf("extract: empty input: %w", domain.ErrUnreadableDocument)
	}
	if len(pageIndices) == 0 {
		return nil, fmt.Errorf("extract: no pages selected: %w", domain.ErrPageOutOfRange)
	}

	pageCount, err := PageCount(p)
	if err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(pageIndices))
	for _, page := range pageIndices {
		if page < 1 || page > pageCount {
			return nil, fmt.Errorf("extract: page %d of %d: %w", page, pageCount, domain.ErrPageOutOfRange)
		}
		selected = append(selected, strconv.Itoa(page))
	}

	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(p.Data), &out, selected, conf()); err != nil {
		return nil, fmt.Errorf("extract pages from %q: %w", p.Name, domain.ErrUnreadableDocument)
	}

	return payload.New(extractedName(p.Name), out.Bytes()), nil
}

// PageCount reads the page count without keeping the document open.
func PageCount(p *domain.DocumentPayload) (int, error) {
	n, err := api.PageCount(bytes.NewReader(p.Data), conf())
	if err != nil {
		return 0, fmt.Errorf("page count of %q: %w", p.Name, domain.ErrUnreadableDocument)
	}
	if n == 0 {
		return 0, fmt.Errorf("%q: %w", p.Name, domain.ErrEmptyDocument)
	}
	return n, nil
}

func mergedName(names []string) string {
	for _, n := range names {
		if n != "" {
			return "merged-" + n
		}
	}
	return "merged.pdf"
}

func extractedName(name string) string {
	if name == "" {
		return "extracted.pdf"
	}
	base := strings.TrimSuffix(name, ".pdf")
	return base + "-extract.pdf"
}
