package domain

import "context"

// ProgressFunc observes streaming (non-terminal) results for one submission.
// Called from the dispatcher's delivery goroutine in completion order.
type ProgressFunc func(OperationResult)

// SubmissionState tracks one submission from the caller's perspective.
// Detached is terminal for the caller even if the worker is still computing.
type SubmissionState int32

const (
	SubmissionQueued SubmissionState = iota
	SubmissionRunning
	SubmissionCompleted
	SubmissionFailed
	SubmissionDetached
)

// String returns the state name for logs.
func (s SubmissionState) String() string {
	switch s {
	case SubmissionQueued:
		return "queued"
	case SubmissionRunning:
		return "running"
	case SubmissionCompleted:
		return "completed"
	case SubmissionFailed:
		return "failed"
	case SubmissionDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Dispatcher submits operations to an isolated worker. Work inside one
// dispatcher is strictly sequential (FIFO per submission); independent
// dispatchers run fully in parallel.
type Dispatcher interface {
	// Submit enqueues an operation and returns its submission handle.
	// Fails synchronously with ErrDispatchUnavailable once the dispatcher is
	// closed. onProgress may be nil.
	Submit(ctx context.Context, op Operation, onProgress ProgressFunc) (Submission, error)

	// Close stops the worker. In-flight work finishes; pending submissions
	// receive a Failed terminal result.
	Close()
}

// Submission is the caller's handle for one submitted operation.
type Submission interface {
	// ID is the correlation identifier for this submission.
	ID() string

	// Result yields exactly one terminal result, then the channel is closed.
	// A cancelled submission never yields; the channel is closed instead.
	Result() <-chan OperationResult

	// State returns the caller-side state of the submission.
	State() SubmissionState

	// Cancel detaches the caller from future results. Advisory only: the
	// worker may keep computing, the caller just stops being notified.
	Cancel()
}
