package domain

// OperationKind tags the operation variants accepted by a dispatcher.
type OperationKind string

const (
	OpMergeDocuments            OperationKind = "merge_documents"
	OpExtractPages              OperationKind = "extract_pages"
	OpGenerateThumbnailGeometry OperationKind = "generate_thumbnail_geometry"
	OpExtractPageData           OperationKind = "extract_page_data"
)

// Operation is a tagged variant describing one unit of work for an isolated
// worker. It carries its own copy of any payload it needs, so concurrent
// operations over the same logical document cannot corrupt each other.
type Operation struct {
	Kind OperationKind

	// Payload is the document for single-document operations.
	Payload *DocumentPayload

	// Payloads is the input set for MergeDocuments, in merge order.
	Payloads []*DocumentPayload

	// PageIndices selects 1-based pages for ExtractPages.
	PageIndices []int

	// Options sets the thumbnail target size for GenerateThumbnailGeometry.
	Options ThumbnailOptions

	// IncludeText requests page text for ExtractPageData.
	IncludeText bool
}

// ResultKind tags operation results. Exactly one terminal kind is produced
// per operation; streaming kinds may precede it zero or more times.
type ResultKind string

const (
	ResultMergeComplete    ResultKind = "merge_complete"
	ResultExtractComplete  ResultKind = "extract_complete"
	ResultGeometryComplete ResultKind = "geometry_complete"
	ResultPageDataComplete ResultKind = "page_data_complete"
	ResultProgress         ResultKind = "progress"
	ResultPageGeometry     ResultKind = "page_geometry"
	ResultPageData         ResultKind = "page_data"
	ResultFailed           ResultKind = "failed"
)

// OperationResult mirrors Operation. Terminal results carry the final output
// or the failure; streaming results carry per-page progress.
type OperationResult struct {
	Kind ResultKind

	// Percent is set for Progress results, in [0, 100].
	Percent int

	// PageNumber/TotalPages accompany per-page streaming results.
	PageNumber int
	TotalPages int

	// Geometry is set for PageGeometry results, Geometries for GeometryComplete.
	Geometry   *PageGeometry
	Geometries []PageGeometry

	// Page is set for PageData results, Pages for PageDataComplete.
	Page  *PageData
	Pages []PageData

	// Output is the produced document for MergeComplete and ExtractComplete.
	Output *DocumentPayload

	// Err is set for Failed results.
	Err error
}

// Terminal reports whether this result ends its operation.
func (r OperationResult) Terminal() bool {
	switch r.Kind {
	case ResultMergeComplete, ResultExtractComplete, ResultGeometryComplete,
		ResultPageDataComplete, ResultFailed:
		return true
	default:
		return false
	}
}
