package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidPrompt   = errors.New("invalid prompt")
	ErrInvalidKind     = errors.New("invalid task kind")
	ErrTaskNotReady    = errors.New("task has no provider job yet")
	ErrProviderFailure = errors.New("provider failure")
	ErrVersionConflict = errors.New("version conflict")
	ErrAmbiguousMatch  = errors.New("ambiguous conversation match")
)
