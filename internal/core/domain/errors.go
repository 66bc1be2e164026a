package domain

import "fmt"

// CaptureError means a change payload or snapshot could not be produced.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// WriteError means an audit entry could not be persisted.
type WriteError struct {
	Action   AuditAction
	TargetID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("append %s entry for %s: %v", e.Action, e.TargetID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// RegistrationError means no audit writer could be built for a connection.
type RegistrationError struct {
	ConnID string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register audit writer for connection %s: %v", e.ConnID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
