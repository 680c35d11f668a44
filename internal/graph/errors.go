package graph

import "errors"

// Common errors.
var (
	ErrInvalidName           = errors.New("invalid node name")
	ErrDuplicateName         = errors.New("node name already in use")
	ErrUnknownNode           = errors.New("unknown node")
	ErrInvalidOutputRef      = errors.New("invalid output reference")
	ErrPlaceholderNotFed     = errors.New("placeholder was not fed")
	ErrUninitializedVariable = errors.New("variable read before initialization")
	ErrDTypeMismatch         = errors.New("dtype mismatch")
)
