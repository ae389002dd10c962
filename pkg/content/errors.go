package content

import "fmt"

// NotFoundError is returned by ReadPiece when the requested chunk file does
// not exist on disk (§4.3).
type NotFoundError struct {
	Index int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("content: chunk %d not found", e.Index)
}

// MissingPieceError is returned by Merge when a chunk required to
// reassemble the file is absent from the content directory (§4.3).
type MissingPieceError struct {
	Index int
}

func (e *MissingPieceError) Error() string {
	return fmt.Sprintf("content: missing piece %d", e.Index)
}

// IoError wraps an underlying filesystem failure (§7).
type IoError struct {
	Message string
	Cause   error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("content: %s: %v", e.Message, e.Cause)
}

func (e *IoError) Unwrap() error {
	return e.Cause
}

// NewIoError wraps cause as an IoError with a descriptive message.
func NewIoError(message string, cause error) *IoError {
	return &IoError{Message: message, Cause: cause}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
