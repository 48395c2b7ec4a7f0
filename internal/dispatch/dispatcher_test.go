package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mhismail3/pdfcombiner/internal/domain"
)

// fakeEngine opens every payload as a document with a fixed page count.
// Pages listed in badPages fail their bounds lookup.
type fakeEngine struct {
	pageCount int
	openErr   error
	badPages  map[int]bool

	// openGate, when set, blocks Open until the channel is closed.
	openGate chan struct{}

	mu    sync.Mutex
	opens int
}

func (e *fakeEngine) Open(data []byte) (domain.DocumentHandle, error) {
	if e.openGate != nil {
		<-e.openGate
	}
	e.mu.Lock()
	e.opens++
	e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	return &fakeHandle{engine: e}, nil
}

type fakeHandle struct {
	engine *fakeEngine
}

func (h *fakeHandle) PageCount() int                   { return h.engine.pageCount }
func (h *fakeHandle) Metadata() domain.DocumentMetadata { return domain.DocumentMetadata{"title": "fake"} }
func (h *fakeHandle) Close() error                     { return nil }

func (h *fakeHandle) PageBounds(pageNumber int) (float64, float64, error) {
	if h.engine.badPages[pageNumber] {
		return 0, 0, domain.ErrRenderFailure
	}
	return 612, 792, nil
}

func (h *fakeHandle) RenderPage(ctx context.Context, pageNumber, w, hgt, q int) ([]byte, error) {
	return []byte("bitmap"), nil
}

func (h *fakeHandle) PageText(pageNumber int) (string, error) {
	return "text of page", nil
}

func testPayload() *domain.DocumentPayload {
	return &domain.DocumentPayload{
		Fingerprint: "fp-dispatch",
		Name:        "doc.pdf",
		Data:        []byte("%PDF-1.7 fake"),
	}
}

func geometryOp() domain.Operation {
	return domain.Operation{
		Kind:    domain.OpGenerateThumbnailGeometry,
		Payload: testPayload(),
		Options: domain.ThumbnailOptions{Width: 153},
	}
}

func awaitTerminal(t *testing.T, sub domain.Submission) domain.OperationResult {
	t.Helper()
	select {
	case r, ok := <-sub.Result():
		require.True(t, ok, "result channel closed without a terminal result")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal result")
		return domain.OperationResult{}
	}
}

// TestGeometryProgressMonotonic submits a geometry operation over 20 pages
// and checks the streamed page numbers are non-decreasing with exactly one
// terminal result, delivered last.
func TestGeometryProgressMonotonic(t *testing.T) {
	eng := &fakeEngine{pageCount: 20}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	var mu sync.Mutex
	var pages []int
	sub, err := d.Submit(context.Background(), geometryOp(), func(r domain.OperationResult) {
		assert.False(t, r.Terminal())
		mu.Lock()
		pages = append(pages, r.PageNumber)
		mu.Unlock()
	})
	require.NoError(t, err)

	terminal := awaitTerminal(t, sub)
	assert.Equal(t, domain.ResultGeometryComplete, terminal.Kind)
	assert.Len(t, terminal.Geometries, 20)
	assert.Equal(t, domain.SubmissionCompleted, sub.State())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pages, 20)
	for i := 1; i < len(pages); i++ {
		assert.GreaterOrEqual(t, pages[i], pages[i-1], "progress pages must be non-decreasing")
	}

	// The channel is closed after the single terminal result.
	_, ok := <-sub.Result()
	assert.False(t, ok)
}

// TestGeometrySkipsFailedPages verifies per-page failures never abort
// sibling pages: partial success is the norm.
func TestGeometrySkipsFailedPages(t *testing.T) {
	eng := &fakeEngine{pageCount: 5, badPages: map[int]bool{3: true}}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	sub, err := d.Submit(context.Background(), geometryOp(), nil)
	require.NoError(t, err)

	terminal := awaitTerminal(t, sub)
	require.Equal(t, domain.ResultGeometryComplete, terminal.Kind)
	require.Len(t, terminal.Geometries, 4)
	for _, geo := range terminal.Geometries {
		assert.NotEqual(t, 3, geo.PageNumber)
	}
}

// TestEmptyDocumentNeverCompletes: a zero-page document fails to open, so
// the operation reports Failed, never a Complete.
func TestEmptyDocumentNeverCompletes(t *testing.T) {
	eng := &fakeEngine{openErr: domain.ErrEmptyDocument}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	sub, err := d.Submit(context.Background(), geometryOp(), nil)
	require.NoError(t, err)

	terminal := awaitTerminal(t, sub)
	assert.Equal(t, domain.ResultFailed, terminal.Kind)
	assert.ErrorIs(t, terminal.Err, domain.ErrEmptyDocument)
	assert.Equal(t, domain.SubmissionFailed, sub.State())
}

// TestFIFOWithinWorker submits several operations and checks the worker
// executes them strictly in arrival order: all progress for submission i
// is delivered before any progress for submission i+1.
func TestFIFOWithinWorker(t *testing.T) {
	eng := &fakeEngine{pageCount: 3}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	var mu sync.Mutex
	var executed []int
	var subs []domain.Submission

	for i := 0; i < 5; i++ {
		idx := i
		sub, err := d.Submit(context.Background(), geometryOp(), func(r domain.OperationResult) {
			mu.Lock()
			executed = append(executed, idx)
			mu.Unlock()
		})
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	for _, sub := range subs {
		awaitTerminal(t, sub)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, executed, 15)
	for i := 1; i < len(executed); i++ {
		assert.GreaterOrEqual(t, executed[i], executed[i-1], "submissions must run FIFO")
	}
}

// TestCancelDetaches cancels a queued submission and checks the caller is
// never notified, while later submissions still complete.
func TestCancelDetaches(t *testing.T) {
	gate := make(chan struct{})
	eng := &fakeEngine{pageCount: 50, openGate: gate}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	first, err := d.Submit(context.Background(), geometryOp(), func(r domain.OperationResult) {
		t.Errorf("cancelled submission received progress for page %d", r.PageNumber)
	})
	require.NoError(t, err)

	// Cancel while the worker is still blocked opening the document, then
	// let it run: the work completes but nothing is delivered.
	first.Cancel()
	assert.Equal(t, domain.SubmissionDetached, first.State())
	close(gate)

	second, err := d.Submit(context.Background(), geometryOp(), nil)
	require.NoError(t, err)

	terminal := awaitTerminal(t, second)
	assert.Equal(t, domain.ResultGeometryComplete, terminal.Kind)

	// The cancelled submission's channel closes without a value.
	select {
	case _, ok := <-first.Result():
		assert.False(t, ok, "cancelled submission must not yield a result")
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled submission channel never closed")
	}
	assert.Equal(t, domain.SubmissionDetached, first.State())
}

// TestSubmitAfterClose fails synchronously with DispatchUnavailable.
func TestSubmitAfterClose(t *testing.T) {
	eng := &fakeEngine{pageCount: 3}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)

	d.Close()

	_, err = d.Submit(context.Background(), geometryOp(), nil)
	assert.ErrorIs(t, err, domain.ErrDispatchUnavailable)
}

func TestNewDispatcherWithoutEngine(t *testing.T) {
	_, err := NewSessionDispatcher(nil, 8, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, domain.ErrDispatchUnavailable)
}

// TestPageDataIncludesText exercises the ExtractPageData path end to end
// against the fake handle's text extractor.
func TestPageDataIncludesText(t *testing.T) {
	eng := &fakeEngine{pageCount: 4}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	op := domain.Operation{
		Kind:        domain.OpExtractPageData,
		Payload:     testPayload(),
		IncludeText: true,
	}
	sub, err := d.Submit(context.Background(), op, nil)
	require.NoError(t, err)

	terminal := awaitTerminal(t, sub)
	require.Equal(t, domain.ResultPageDataComplete, terminal.Kind)
	require.Len(t, terminal.Pages, 4)
	for i, page := range terminal.Pages {
		assert.Equal(t, i+1, page.PageNumber)
		assert.Equal(t, "text of page", page.Text)
		assert.Equal(t, 612, page.Width)
	}
}

// TestSessionOpenedPerOperation: handles are opened lazily per operation and
// closed after, never retained across submissions.
func TestSessionOpenedPerOperation(t *testing.T) {
	eng := &fakeEngine{pageCount: 2}
	d, err := NewSessionDispatcher(eng, 8, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 3; i++ {
		sub, err := d.Submit(context.Background(), geometryOp(), nil)
		require.NoError(t, err)
		awaitTerminal(t, sub)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 3, eng.opens)
}
