package sandbox

import "errors"

var (
	ErrRuntime      = errors.New("sandbox runtime error")
	ErrFileNotFound = errors.New("file not found in sandbox")
	ErrFileTooLarge = errors.New("file exceeds size limit")
)
