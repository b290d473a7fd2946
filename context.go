package localbackend

import "github.com/google/uuid"

// CancelResult is the outcome of a cancellation request observed against
// an operation in progress.
type CancelResult int

const (
	// CancelNotAttempted means no cancellation was ever requested.
	CancelNotAttempted CancelResult = iota
	// CancelOK means the cancellation was observed in time to stop the
	// operation before it committed.
	CancelOK
	// CancelTooLate means the operation had already committed (or
	// finished its cleanup block) by the time cancellation was observed.
	CancelTooLate
)

// OperationContext carries one Modify-DN request's input and the mutable
// state the pipeline accumulates while processing it. Its lifecycle is a
// single request.
type OperationContext struct {
	// OperationID uniquely identifies this operation. Change-notification
	// listeners see it through ctx; the changelog LDIF record does not
	// include it.
	OperationID uuid.UUID

	// Input.
	EntryDN           *DN
	NewRDN            *RelativeDN
	NewSuperior       *DN
	DeleteOldRDN      bool
	RequestControls   []Control
	CallerDN          *DN
	IsInternal        bool
	IsSynchronization bool

	// Mutable processing state.
	CurrentEntry            *Entry
	NewEntry                *Entry
	Modifications           []Modification
	ResultCode              ResultCode
	ErrorMessage            string
	MatchedDN               *DN
	ResponseControls        []Control
	CancelRequest           bool
	CancelResult            CancelResult
	ProxiedAuthorizationDN  *DN
	AuthorizationEntry      *Entry
	NoOp                    bool
	SkipPostOperation       bool

	// Set by the control pipeline when a pre-read/post-read control was
	// requested, consumed at §4.3.2.
	PreReadRequest  *ReadEntryRequest
	PostReadRequest *ReadEntryRequest
}

// ReadEntryRequest is the decoded form of a pre-read/post-read request
// control: which attributes of the snapshot entry to return.
type ReadEntryRequest struct {
	Attributes []string
}

// NewOperationContext builds the context for a single Modify-DN request.
func NewOperationContext(id uuid.UUID, entryDN *DN, newRDN *RelativeDN, newSuperior *DN, deleteOldRDN bool) *OperationContext {
	return &OperationContext{
		OperationID:  id,
		EntryDN:      entryDN,
		NewRDN:       newRDN,
		NewSuperior:  newSuperior,
		DeleteOldRDN: deleteOldRDN,
	}
}

// Fail records a non-success result and message, mirroring
// OperationContext.setResponseData in the Java source.
func (ctx *OperationContext) Fail(code ResultCode, message string) {
	ctx.ResultCode = code
	ctx.ErrorMessage = message
}

// IndicateCancelled records a cancellation result and marks the operation
// to skip post-operation plugin dispatch, matching §5's "returns without
// invoking post-op plugins" on observed cancellation.
func (ctx *OperationContext) IndicateCancelled(code ResultCode, message string) {
	ctx.CancelResult = CancelOK
	ctx.Fail(code, message)
	ctx.SkipPostOperation = true
}

// LatchTooLate marks cancellation as no longer actionable. It is called
// unconditionally in the cleanup block; it is not called when commit
// begins, so Cancelled still reports an outstanding request during the
// backend's RenameEntry.
func (ctx *OperationContext) LatchTooLate() {
	if ctx.CancelResult != CancelOK {
		ctx.CancelResult = CancelTooLate
	}
}

// Cancelled reports whether the caller has asked to cancel and that
// request is still actionable (not already latched too-late).
func (ctx *OperationContext) Cancelled() bool {
	return ctx.CancelRequest && ctx.CancelResult != CancelTooLate
}
