package approval

import "errors"

var (
	// ErrAlreadyDecided means the request had already reached a terminal
	// status when the decision arrived. Covers double-clicks and decisions
	// landing after the timeout transition.
	ErrAlreadyDecided = errors.New("approval request already decided")

	// ErrUnauthorizedApprover means the deciding identity is not in the
	// configured approver list. State is left unchanged.
	ErrUnauthorizedApprover = errors.New("decision from unauthorized approver")

	// ErrInvalidDecision means the transport passed something other than
	// APPROVED or DENIED.
	ErrInvalidDecision = errors.New("decision must be APPROVED or DENIED")
)
