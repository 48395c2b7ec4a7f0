package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mhismail3/pdfcombiner/internal/cache"
	"github.com/mhismail3/pdfcombiner/internal/domain"
	"github.com/mhismail3/pdfcombiner/internal/scheduler"
)

// fakeEngine opens every payload as a fixed-size document and counts renders.
type fakeEngine struct {
	pageCount int
	badPages  map[int]bool

	mu      sync.Mutex
	renders int
}

func (e *fakeEngine) Open(data []byte) (domain.DocumentHandle, error) {
	return &fakeHandle{engine: e}, nil
}

func (e *fakeEngine) renderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders
}

type fakeHandle struct {
	engine *fakeEngine
}

func (h *fakeHandle) PageCount() int { return h.engine.pageCount }
func (h *fakeHandle) Metadata() domain.DocumentMetadata {
	return domain.DocumentMetadata{"title": "fake document"}
}
func (h *fakeHandle) Close() error { return nil }

func (h *fakeHandle) PageBounds(pageNumber int) (float64, float64, error) {
	return 612, 792, nil
}

func (h *fakeHandle) RenderPage(ctx context.Context, pageNumber, w, hgt, q int) ([]byte, error) {
	h.engine.mu.Lock()
	h.engine.renders++
	h.engine.mu.Unlock()
	if h.engine.badPages[pageNumber] {
		return nil, domain.ErrRenderFailure
	}
	return []byte("bitmap"), nil
}

func newTestPipeline(t *testing.T, eng *fakeEngine) *ThumbnailPipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	lru := cache.NewThumbnailLRU(128, logger)
	return New(eng, lru, logger, Options{
		QueueSize:            8,
		MaxConcurrentRenders: 2,
		JPEGQuality:          80,
		Scheduler: scheduler.Config{
			ThumbnailWidth:  90,
			ThumbnailHeight: 90,
			Gap:             10,
			MinColumns:      1,
			BufferRows:      1,
			BatchSize:       4,
		},
	})
}

func TestOpenDocumentReturnsInfo(t *testing.T) {
	eng := &fakeEngine{pageCount: 12}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "report.pdf", []byte("%PDF-1.7 report"))
	require.NoError(t, err)

	assert.NotEmpty(t, info.Fingerprint)
	assert.Equal(t, "report.pdf", info.Name)
	assert.Equal(t, 12, info.PageCount)
	assert.Len(t, info.Geometries, 12)
	assert.Equal(t, "fake document", info.Metadata["title"])
}

func TestOpenDocumentIsIdempotent(t *testing.T) {
	eng := &fakeEngine{pageCount: 3}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	first, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF same bytes"))
	require.NoError(t, err)
	second, err := p.OpenDocument(context.Background(), "a-copy.pdf", []byte("%PDF same bytes"))
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.PageCount, second.PageCount)
}

func TestFetchThumbnailCachesResult(t *testing.T) {
	eng := &fakeEngine{pageCount: 5}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF a"))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := p.FetchThumbnail(ctx, info.Fingerprint, 2, 90, 0)
	require.NoError(t, err)
	second, err := p.FetchThumbnail(ctx, info.Fingerprint, 2, 90, 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, eng.renderCount(), "second fetch must be served from cache")
}

func TestFetchThumbnailUnknownDocument(t *testing.T) {
	p := newTestPipeline(t, &fakeEngine{pageCount: 5})
	defer p.Shutdown()

	_, err := p.FetchThumbnail(context.Background(), "no-such-doc", 1, 90, 0)
	assert.ErrorIs(t, err, domain.ErrDispatchUnavailable)
}

func TestFetchThumbnailPageOutOfRange(t *testing.T) {
	eng := &fakeEngine{pageCount: 4}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF a"))
	require.NoError(t, err)

	_, err = p.FetchThumbnail(context.Background(), info.Fingerprint, 5, 90, 0)
	assert.ErrorIs(t, err, domain.ErrPageOutOfRange)

	_, err = p.FetchThumbnail(context.Background(), info.Fingerprint, 0, 90, 0)
	assert.ErrorIs(t, err, domain.ErrPageOutOfRange)
}

func TestFetchThumbnailRenderFailure(t *testing.T) {
	eng := &fakeEngine{pageCount: 4, badPages: map[int]bool{3: true}}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF a"))
	require.NoError(t, err)

	_, err = p.FetchThumbnail(context.Background(), info.Fingerprint, 3, 90, 0)
	assert.ErrorIs(t, err, domain.ErrRenderFailure)

	// Соседние страницы не затронуты.
	_, err = p.FetchThumbnail(context.Background(), info.Fingerprint, 2, 90, 0)
	assert.NoError(t, err)
}

func TestHandleViewportWarmsCache(t *testing.T) {
	eng := &fakeEngine{pageCount: 30}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF a"))
	require.NoError(t, err)

	plan, err := p.HandleViewport(context.Background(), info.Fingerprint, domain.ScrollState{
		ScrollTop:      0,
		ViewportHeight: 300,
		ContainerWidth: 90,
		ZoomLevel:      1.0,
	})
	require.NoError(t, err)

	assert.False(t, plan.NoOp)
	assert.Greater(t, plan.Dispatched, 0)
	assert.NotEmpty(t, p.CachedPages(info.Fingerprint))
}

func TestSubmitOperationRoutesToDocument(t *testing.T) {
	eng := &fakeEngine{pageCount: 6}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF a"))
	require.NoError(t, err)

	doc, err := p.Document(info.Fingerprint)
	require.NoError(t, err)

	sub, err := p.SubmitOperation(context.Background(), domain.Operation{
		Kind:    domain.OpExtractPageData,
		Payload: &domain.DocumentPayload{Fingerprint: doc.Fingerprint, Name: doc.Name, Data: []byte("%PDF a")},
	}, nil)
	require.NoError(t, err)

	var terminal domain.OperationResult
	for r := range sub.Result() {
		terminal = r
	}
	assert.Equal(t, domain.ResultPageDataComplete, terminal.Kind)
	assert.Len(t, terminal.Pages, 6)
}

func TestCloseDocumentStopsFetches(t *testing.T) {
	eng := &fakeEngine{pageCount: 4}
	p := newTestPipeline(t, eng)
	defer p.Shutdown()

	info, err := p.OpenDocument(context.Background(), "a.pdf", []byte("%PDF a"))
	require.NoError(t, err)

	require.NoError(t, p.CloseDocument(info.Fingerprint))

	_, err = p.FetchThumbnail(context.Background(), info.Fingerprint, 1, 90, 0)
	assert.ErrorIs(t, err, domain.ErrDispatchUnavailable)

	err = p.CloseDocument(info.Fingerprint)
	assert.Error(t, err, "closing twice reports the document as not open")
}

func TestRenderLimiterRespectsContext(t *testing.T) {
	rl := NewRenderLimiter(1)
	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Acquire(ctx), context.Canceled)

	rl.Release()
	assert.NoError(t, rl.Acquire(context.Background()))
}
