package tandem

import (
	"errors"
	"io"

	"github.com/tandemrpc/tandem-go/internal/wire"
)

// ErrorCode is a 32-bit integer indicating the type of an error condition
type ErrorCode uint32

const (
	NoError ErrorCode = iota
	// InvalidResponse: an inbound byte sequence matched no frame shape.
	InvalidResponse
	// NoCallbackDefined: a call or callback arrived and no suitable
	// handler is registered.
	NoCallbackDefined
	// DoubleAnswer: a call's answer was set more than once.
	DoubleAnswer
	// CallAlreadyReturned: a callback was issued on a call whose answer
	// is already sent.
	CallAlreadyReturned
	// ConnectionDetached: a read was attempted after Detach.
	ConnectionDetached
	// PromiseReentry: a promise was forced from inside its own wait loop.
	PromiseReentry
	// PeerEOF: the remote end closed the transport.
	PeerEOF
	// InternalError: a state violation inside the engine.
	InternalError

	ErrorUnknown ErrorCode = 0xFF
)

var (
	errDetached        = newErr(ConnectionDetached, errors.New("connection detached"))
	errDoubleAnswer    = newErr(DoubleAnswer, errors.New("answer already sent"))
	errAlreadyReturned = newErr(CallAlreadyReturned, errors.New("call already returned"))
	errPromiseReentry  = newErr(PromiseReentry, errors.New("lazy answer forced from inside its own wait loop"))
	eofPeer            = newErr(PeerEOF, errors.New("read EOF from remote peer"))
)

type tandemError struct {
	ErrorCode
	error
}

func (e *tandemError) Error() string {
	if e.error != nil {
		return e.error.Error()
	}
	return "<nil>"
}

func newErr(code ErrorCode, err error) error {
	return &tandemError{code, err}
}

// GetError unpacks errors returned by this package into an ErrorCode and
// the underlying error value.
func GetError(err error) (ErrorCode, error) {
	if err == nil {
		return NoError, nil
	}
	var te *tandemError
	if errors.As(err, &te) {
		return te.ErrorCode, te.error
	}
	return ErrorUnknown, err
}

// fromReadError classifies an error observed while parsing inbound frames.
func fromReadError(err error) error {
	var we *wire.Error
	if errors.As(err, &we) {
		return newErr(InvalidResponse, err)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF || err == io.ErrClosedPipe {
		return eofPeer
	}
	return err
}
