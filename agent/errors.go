package agent

import "errors"

var (
	// ErrToolNotFound is returned when a call names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrApprovalPending is returned when a conversation already has a call
	// waiting for approval.
	ErrApprovalPending = errors.New("an action is already pending approval")

	// ErrNoPendingApproval is returned when an approval answer arrives for a
	// conversation with nothing pending.
	ErrNoPendingApproval = errors.New("no actions pending approval")

	// ErrRefusedByUser is the tool error recorded when the user rejects a call.
	ErrRefusedByUser = errors.New("the user refused to execute this tool for security reasons")
)
