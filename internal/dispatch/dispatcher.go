// Package dispatch implements the task dispatch protocol: one isolated
// worker per document session, strict FIFO inside a worker, streaming
// progress plus exactly one terminal result per submission.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mhismail3/pdfcombiner/internal/domain"
	"github.com/mhismail3/pdfcombiner/internal/pdfops"
	"github.com/mhismail3/pdfcombiner/internal/session"
)

const defaultQueueSize = 32

// SessionDispatcher runs operations for one document session on a single
// worker goroutine. Independent dispatchers run fully in parallel; inside
// one dispatcher submissions execute in arrival order.
type SessionDispatcher struct {
	engine domain.RenderEngine
	logger *zap.Logger

	queue chan *submission
	stop  chan struct{}
	wg    sync.WaitGroup

	// mu serializes enqueueing against Close: submitters hold the read
	// side across the channel send, so the queue is never closed mid-send.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewSessionDispatcher starts the worker. Fails with ErrDispatchUnavailable
// if no rendering engine is available.
func NewSessionDispatcher(engine domain.RenderEngine, queueSize int, logger *zap.Logger) (*SessionDispatcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("no rendering engine: %w", domain.ErrDispatchUnavailable)
	}
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}

	d := &SessionDispatcher{
		engine: engine,
		logger: logger,
		queue:  make(chan *submission, queueSize),
		stop:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.worker()

	return d, nil
}

// Submit enqueues an operation. Fails synchronously with
// ErrDispatchUnavailable once the dispatcher is closed.
func (d *SessionDispatcher) Submit(ctx context.Context, op domain.Operation, onProgress domain.ProgressFunc) (domain.Submission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("submit %s: %w", op.Kind, domain.ErrDispatchUnavailable)
	}

	sub := &submission{
		id:         uuid.New().String(),
		op:         op,
		onProgress: onProgress,
		result:     make(chan domain.OperationResult, 1),
	}
	sub.state.Store(int32(domain.SubmissionQueued))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d.queue <- sub:
	}

	d.logger.Debug("operation submitted",
		zap.String("submission_id", sub.id),
		zap.String("kind", string(op.Kind)),
	)
	return sub, nil
}

// Close stops accepting submissions and waits for the worker to drain.
// Pending submissions receive a Failed terminal result.
func (d *SessionDispatcher) Close() {
	d.closeOnce.Do(func() {
		// Taking the write lock waits out any submitter mid-send, so
		// closing the queue below cannot race an enqueue.
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.stop)
		close(d.queue)
		d.wg.Wait()

		d.logger.Debug("dispatcher closed")
	})
}

// worker is the isolated execution context: one goroutine, FIFO order.
func (d *SessionDispatcher) worker() {
	defer d.wg.Done()

	for sub := range d.queue {
		select {
		case <-d.stop:
			// Shutting down: pending work is failed, not silently dropped.
			sub.finish(domain.OperationResult{
				Kind: domain.ResultFailed,
				Err:  domain.ErrDispatchUnavailable,
			}, domain.SubmissionFailed)
			continue
		default:
		}

		sub.state.Store(int32(domain.SubmissionRunning))
		d.run(sub)
	}
}

// run executes one operation and delivers its terminal result.
func (d *SessionDispatcher) run(sub *submission) {
	var terminal domain.OperationResult

	switch sub.op.Kind {
	case domain.OpMergeDocuments:
		terminal = d.runMerge(sub)
	case domain.OpExtractPages:
		terminal = d.runExtractPages(sub)
	case domain.OpGenerateThumbnailGeometry:
		terminal = d.runGeometry(sub)
	case domain.OpExtractPageData:
		terminal = d.runPageData(sub)
	default:
		terminal = domain.OperationResult{
			Kind: domain.ResultFailed,
			Err:  fmt.Errorf("unknown operation kind %q", sub.op.Kind),
		}
	}

	state := domain.SubmissionCompleted
	if terminal.Kind == domain.ResultFailed {
		state = domain.SubmissionFailed
		d.logger.Warn("operation failed",
			zap.String("submission_id", sub.id),
			zap.String("kind", string(sub.op.Kind)),
			zap.Error(terminal.Err),
		)
	}
	sub.finish(terminal, state)
}

func (d *SessionDispatcher) runMerge(sub *submission) domain.OperationResult {
	sub.progress(domain.OperationResult{Kind: domain.ResultProgress, Percent: 10})

	merged, err := pdfops.Merge(sub.op.Payloads)
	if err != nil {
		return domain.OperationResult{Kind: domain.ResultFailed, Err: err}
	}

	sub.progress(domain.OperationResult{Kind: domain.ResultProgress, Percent: 90})
	return domain.OperationResult{Kind: domain.ResultMergeComplete, Output: merged}
}

func (d *SessionDispatcher) runExtractPages(sub *submission) domain.OperationResult {
	sub.progress(domain.OperationResult{Kind: domain.ResultProgress, Percent: 10})

	extracted, err := pdfops.ExtractPages(sub.op.Payload, sub.op.PageIndices)
	if err != nil {
		return domain.OperationResult{Kind: domain.ResultFailed, Err: err}
	}

	sub.progress(domain.OperationResult{Kind: domain.ResultProgress, Percent: 90})
	return domain.OperationResult{Kind: domain.ResultExtractComplete, Output: extracted}
}

// runGeometry streams one PageGeometry per page in ascending page order.
// A page that fails is logged and skipped; siblings keep going.
func (d *SessionDispatcher) runGeometry(sub *submission) domain.OperationResult {
	s, err := session.Open(d.engine, sub.op.Payload)
	if err != nil {
		return domain.OperationResult{Kind: domain.ResultFailed, Err: err}
	}
	defer s.Close()

	total := s.PageCount()
	geometries := make([]domain.PageGeometry, 0, total)

	for page := 1; page <= total; page++ {
		geo, err := s.PageGeometry(page, sub.op.Options)
		if err != nil {
			d.logger.Warn("page geometry failed, skipping",
				zap.String("submission_id", sub.id),
				zap.Int("page", page),
				zap.Error(err),
			)
			continue
		}
		geometries = append(geometries, geo)
		sub.progress(domain.OperationResult{
			Kind:       domain.ResultPageGeometry,
			PageNumber: page,
			TotalPages: total,
			Geometry:   &geo,
		})
	}

	return domain.OperationResult{
		Kind:       domain.ResultGeometryComplete,
		TotalPages: total,
		Geometries: geometries,
	}
}

func (d *SessionDispatcher) runPageData(sub *submission) domain.OperationResult {
	s, err := session.Open(d.engine, sub.op.Payload)
	if err != nil {
		return domain.OperationResult{Kind: domain.ResultFailed, Err: err}
	}
	defer s.Close()

	extractor, canExtract := s.Handle().(domain.TextExtractor)
	total := s.PageCount()
	pages := make([]domain.PageData, 0, total)

	for page := 1; page <= total; page++ {
		w, h, err := s.Handle().PageBounds(page)
		if err != nil {
			d.logger.Warn("page data failed, skipping",
				zap.String("submission_id", sub.id),
				zap.Int("page", page),
				zap.Error(err),
			)
			continue
		}

		data := domain.PageData{PageNumber: page, Width: int(w), Height: int(h)}
		if sub.op.IncludeText && canExtract {
			text, err := extractor.PageText(page)
			if err != nil {
				d.logger.Warn("page text failed, skipping text",
					zap.String("submission_id", sub.id),
					zap.Int("page", page),
					zap.Error(err),
				)
			} else {
				data.Text = text
			}
		}

		pages = append(pages, data)
		sub.progress(domain.OperationResult{
			Kind:       domain.ResultPageData,
			PageNumber: page,
			TotalPages: total,
			Page:       &data,
		})
	}

	return domain.OperationResult{
		Kind:       domain.ResultPageDataComplete,
		TotalPages: total,
		Pages:      pages,
	}
}

// submission is the worker-side and caller-side view of one operation.
type submission struct {
	id         string
	op         domain.Operation
	onProgress domain.ProgressFunc
	result     chan domain.OperationResult
	state      atomic.Int32
	detached   atomic.Bool
}

func (s *submission) ID() string {
	return s.id
}

func (s *submission) Result() <-chan domain.OperationResult {
	return s.result
}

func (s *submission) State() domain.SubmissionState {
	return domain.SubmissionState(s.state.Load())
}

// Cancel detaches the caller. The worker may still be computing; it just
// stops delivering. Terminal from the caller's perspective.
func (s *submission) Cancel() {
	if s.detached.CompareAndSwap(false, true) {
		s.state.Store(int32(domain.SubmissionDetached))
	}
}

// progress delivers a streaming result unless the caller detached.
func (s *submission) progress(r domain.OperationResult) {
	if s.detached.Load() || s.onProgress == nil {
		return
	}
	s.onProgress(r)
}

// finish delivers the terminal result and closes the channel. The worker is
// the only sender, so the send-then-close pair is race-free. A detached
// submission gets its channel closed without a value.
func (s *submission) finish(r domain.OperationResult, state domain.SubmissionState) {
	if !s.detached.Load() {
		s.state.Store(int32(state))
		s.result <- r
	}
	close(s.result)
}

// Verify that SessionDispatcher implements domain.Dispatcher interface
var _ domain.Dispatcher = (*SessionDispatcher)(nil)
var _ domain.Submission = (*submission)(nil)
