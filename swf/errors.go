package swf

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Container Error Types
// ---------------------------------------------------------------------------

var (
	// ErrMalformedContainer is fatal: the movie cannot be loaded at all.
	ErrMalformedContainer = errors.New("malformed container")
	// ErrMalformedTag is recoverable: the offending tag is skipped.
	ErrMalformedTag = errors.New("malformed tag")

	ErrInvalidSignature   = errors.New("invalid signature: expected FWS, CWS or ZWS")
	ErrUnexpectedEOF      = errors.New("unexpected end of data")
	ErrTagLengthOverflow  = errors.New("tag length exceeds remaining data")
	ErrUnsupportedVersion = errors.New("unsupported container version")
)

// ContainerError reports a fatal failure while reading the container
// header or body.
type ContainerError struct {
	Offset int
	Reason string
	Err    error
}

func (e *ContainerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("swf: malformed container at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("swf: malformed container at offset %d: %s", e.Offset, e.Reason)
}

func (e *ContainerError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedContainer, e.Err}
	}
	return []error{ErrMalformedContainer}
}

// TagError reports a tag whose payload could not be decoded. The reader
// has already moved past the tag when this is returned.
type TagError struct {
	Offset int
	Code   TagCode
	Err    error
}

func (e *TagError) Error() string {
	return fmt.Sprintf("swf: malformed %s tag at offset %d: %v", e.Code, e.Offset, e.Err)
}

func (e *TagError) Unwrap() []error {
	return []error{ErrMalformedTag, e.Err}
}
