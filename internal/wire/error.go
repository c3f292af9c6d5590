package wire

import (
	"fmt"
)

type ErrorType int

const (
	ErrorProtocol ErrorType = iota
	ErrorFrameSize
)

// Error marks a byte sequence that could not be parsed as any frame shape.
// The dispatcher maps it to its invalid-response error kind.
type Error struct {
	errorType ErrorType
	error
}

func (e *Error) Type() ErrorType {
	return e.errorType
}

func (e *Error) Err() error {
	return e.error
}

func protoError(fmtstr string, args ...interface{}) error {
	return &Error{ErrorProtocol, fmt.Errorf(fmtstr, args...)}
}

func frameSizeError(size uint32, field string) error {
	return &Error{ErrorFrameSize, fmt.Errorf("illegal %s size: 0x%x", field, size)}
}
