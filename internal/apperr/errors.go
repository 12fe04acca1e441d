package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// Edit pipeline.
	ErrNoActiveEditor   = errors.New("no active editor")
	ErrEmptyInstruction = errors.New("instruction is empty")
	ErrNoEditsProposed  = errors.New("no edits proposed")
	ErrUnmappableEdit   = errors.New("no proposed edit could be mapped onto the document")
	ErrServiceFailure   = errors.New("ai service failure")
	ErrCancelled        = errors.New("edit cancelled")
)
