// Package scheduler converts scroll state into a visible page range, a
// buffered prefetch plan, and bounded-concurrency fetch batches.
package scheduler

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mhismail3/pdfcombiner/internal/domain"
)

// Fetcher renders one thumbnail into the cache. Implemented by the pipeline.
type Fetcher interface {
	FetchThumbnail(ctx context.Context, pageNumber, width, height int) error
}

// Config tunes the grid math and prefetch behavior.
type Config struct {
	// ThumbnailWidth/Height are the cell size in pixels at zoom 1.0.
	ThumbnailWidth  int
	ThumbnailHeight int

	// Gap is the spacing between cells in pixels.
	Gap int

	// MinColumns is the device floor for the column count.
	MinColumns int

	// BufferRows extends the visible range above and below. Zero means
	// "one viewport worth of rows".
	BufferRows int

	// BatchSize bounds concurrent fetches. Zero defaults to 3.
	BatchSize int
}

func (c Config) batchSize() int {
	if c.BatchSize < 1 {
		return 3
	}
	return c.BatchSize
}

// Viewport schedules thumbnail fetches for one document as the user scrolls
// and zooms. A scheduling pass that derives an unchanged range is a no-op,
// which breaks feedback loops between scroll handling and prefetch-triggered
// re-renders.
type Viewport struct {
	cfg     Config
	cache   domain.ThumbnailCache
	fetcher Fetcher
	logger  *zap.Logger

	mu   sync.Mutex
	last planRange
}

// planRange is the derived state compared across passes.
type planRange struct {
	startPage int
	endPage   int
	width     int
	height    int
	valid     bool
}

// Plan is the outcome of one scheduling pass.
type Plan struct {
	State domain.ViewportState

	// Pages the UI should expect bitmaps for, nearest-to-center first.
	Pages []int

	// Dispatched counts fetches actually issued (cache misses).
	Dispatched int

	// NoOp is set when the pass derived an unchanged range.
	NoOp bool
}

// NewViewport creates a scheduler over the shared thumbnail cache.
func NewViewport(cfg Config, cache domain.ThumbnailCache, fetcher Fetcher, logger *zap.Logger) *Viewport {
	if cfg.ThumbnailWidth < 1 {
		cfg.ThumbnailWidth = 153
	}
	if cfg.ThumbnailHeight < 1 {
		cfg.ThumbnailHeight = 198
	}
	if cfg.MinColumns < 1 {
		cfg.MinColumns = 1
	}
	return &Viewport{
		cfg:     cfg,
		cache:   cache,
		fetcher: fetcher,
		logger:  logger,
	}
}

// OnViewportChanged recomputes the visible range from raw scroll state and
// dispatches the resulting fetch plan. Blocks until the batch settles; per
// page failures are logged and skipped, they never abort the batch.
func (v *Viewport) OnViewportChanged(ctx context.Context, fingerprint string, scroll domain.ScrollState) (Plan, error) {
	if scroll.TotalPages < 1 {
		return Plan{NoOp: true}, nil
	}

	zoom := scroll.ZoomLevel
	if zoom <= 0 {
		zoom = 1.0
	}
	thumbW := int(float64(v.cfg.ThumbnailWidth) * zoom)
	thumbH := int(float64(v.cfg.ThumbnailHeight) * zoom)
	cellW := float64(thumbW + v.cfg.Gap)
	rowHeight := float64(thumbH + v.cfg.Gap)

	columns := v.cfg.MinColumns
	if scroll.ContainerWidth > cellW {
		if derived := int(scroll.ContainerWidth / cellW); derived > columns {
			columns = derived
		}
	}

	totalRows := (scroll.TotalPages + columns - 1) / columns
	firstVisibleRow := int(scroll.ScrollTop / rowHeight)
	rowsPerViewport := int(math.Ceil(scroll.ViewportHeight/rowHeight)) + 1

	lastVisibleRow := clampRow(firstVisibleRow+rowsPerViewport-1, totalRows)
	firstVisibleRow = clampRow(firstVisibleRow, totalRows)

	bufferRows := v.cfg.BufferRows
	if bufferRows < 1 {
		bufferRows = rowsPerViewport
	}
	startRow := clampRow(firstVisibleRow-bufferRows, totalRows)
	endRow := clampRow(lastVisibleRow+bufferRows, totalRows)

	firstVisible := firstVisibleRow*columns + 1
	lastVisible := minInt((lastVisibleRow+1)*columns, scroll.TotalPages)
	startPage := startRow*columns + 1
	endPage := minInt((endRow+1)*columns, scroll.TotalPages)

	state := domain.ViewportState{
		FirstVisibleIndex: firstVisible,
		LastVisibleIndex:  lastVisible,
		ColumnCount:       columns,
		ZoomLevel:         zoom,
	}

	// Re-entrancy rule: an unchanged derived range triggers zero work.
	v.mu.Lock()
	current := planRange{startPage: startPage, endPage: endPage, width: thumbW, height: thumbH, valid: true}
	if v.last == current {
		v.mu.Unlock()
		return Plan{State: state, NoOp: true}, nil
	}
	v.last = current
	v.mu.Unlock()

	pages := orderByDistance(startPage, endPage, (firstVisible+lastVisible)/2)

	dispatched, err := v.dispatch(ctx, fingerprint, pages, thumbW, thumbH)
	if err != nil {
		return Plan{}, err
	}

	v.logger.Debug("viewport pass",
		zap.Int("first_visible", firstVisible),
		zap.Int("last_visible", lastVisible),
		zap.Int("plan_start", startPage),
		zap.Int("plan_end", endPage),
		zap.Int("dispatched", dispatched),
	)

	return Plan{State: state, Pages: pages, Dispatched: dispatched}, nil
}

// Invalidate forgets the previous derived range, forcing the next pass to
// dispatch. Used when the cache was cleared or the document changed.
func (v *Viewport) Invalidate() {
	v.mu.Lock()
	v.last = planRange{}
	v.mu.Unlock()
}

// orderByDistance lists pages [start, end] sorted by absolute distance from
// the centered page, closest first, so visible pages are never starved by
// speculative prefetch. Equal distances keep ascending page order.
func orderByDistance(start, end, center int) []int {
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return absInt(pages[i]-center) < absInt(pages[j]-center)
	})
	return pages
}

// dispatch issues fetches for uncached pages with bounded concurrency.
func (v *Viewport) dispatch(ctx context.Context, fingerprint string, pages []int, width, height int) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.batchSize())

	dispatched := 0
	for _, page := range pages {
		key := domain.ThumbnailKey{
			Fingerprint: fingerprint,
			PageNumber:  page,
			Width:       width,
			Height:      height,
		}
		// Cache-first: warm pages never reach the rendering path.
		if v.cache.Has(key) {
			continue
		}

		dispatched++
		page := page
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := v.fetcher.FetchThumbnail(gctx, page, width, height); err != nil {
				// Partial success is the norm for large documents.
				v.logger.Warn("thumbnail fetch failed, skipping page",
					zap.Int("page", page),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	return dispatched, nil
}

func clampRow(row, totalRows int) int {
	if row < 0 {
		return 0
	}
	if row > totalRows-1 {
		return totalRows - 1
	}
	return row
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
