package domain

import "errors"

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrUnknownRoom   = errors.New("unknown room")
	ErrUnknownUser   = errors.New("unknown user")
)
