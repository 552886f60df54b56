package jobs

import "errors"

/*
DO NOT: type JobError struct { Class ExecutionClass ... }
Errors should be inspectable with errors.Is()
Context goes in the wrapping message, not in fields
*/

var (
	ErrJobFailed               = errors.New("job failed")
	ErrNotCallable             = errors.New("enqueue target is not a registered job")
	ErrInvalidSignature        = errors.New("job function has an unsupported signature")
	ErrMissingExecutionClass   = errors.New("blocking jobs must be declared io-bound or cpu-bound")
	ErrDuplicateContextBinding = errors.New("job declares more than one context parameter")
	ErrUnresolvedCallable      = errors.New("callable reference is not registered")
	ErrArgumentMismatch        = errors.New("arguments do not match job signature")
)
