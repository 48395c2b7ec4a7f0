package domain

// DocumentPayload is an immutable byte buffer plus a content fingerprint.
// The fingerprint namespaces all cache keys derived from this document.
// Data must never be mutated after creation; components that hand the bytes
// across an ownership boundary clone first (see internal/payload).
type DocumentPayload struct {
	Fingerprint string
	Name        string
	Data        []byte
}

// Size returns the payload size in bytes.
func (p *DocumentPayload) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// PageGeometry describes page dimensions at a requested target size.
// Computed once per (page, target-size) pair by the document session.
type PageGeometry struct {
	PageNumber int     `json:"page_number"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Scale      float64 `json:"scale"`
}

// PageData carries extracted content for a single page.
type PageData struct {
	PageNumber int    `json:"page_number"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Text       string `json:"text,omitempty"`
}

// DocumentMetadata holds document-level key/value metadata (title, author, ...).
type DocumentMetadata map[string]string

// ThumbnailKey uniquely identifies one rendered bitmap.
// Height 0 means "auto" (derived from the page aspect ratio).
type ThumbnailKey struct {
	Fingerprint string
	PageNumber  int
	Width       int
	Height      int
}

// ThumbnailOptions selects the target size and quality for thumbnail rendering.
type ThumbnailOptions struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	Quality int `json:"quality"`
}

// ScrollState is the raw viewport input reported by the UI layer on every
// scroll, resize or zoom event.
type ScrollState struct {
	ScrollTop      float64 `json:"scroll_top"`
	ViewportHeight float64 `json:"viewport_height"`
	ContainerWidth float64 `json:"container_width"`
	ZoomLevel      float64 `json:"zoom_level"`
	TotalPages     int     `json:"total_pages"`
}

// ViewportState is the derived visible window. It is the sole input to
// prefetch scheduling and is recomputed from ScrollState on every event.
type ViewportState struct {
	FirstVisibleIndex int     `json:"first_visible_index"`
	LastVisibleIndex  int     `json:"last_visible_index"`
	ColumnCount       int     `json:"column_count"`
	ZoomLevel         float64 `json:"zoom_level"`
}
