package tandem

import (
	"errors"
	"sync"

	"github.com/tandemrpc/tandem-go/internal/wire"
)

// Call is one inbound call or callback as seen by a handler. It exposes
// the decoded function name and params, sends the answer, and issues
// callbacks addressed to the peer's originating call. A call that arrived
// without an id gets the anonymous return frame as its answer and cannot
// be called back.
type Call struct {
	conn   *Connection
	fn     string
	params *Params
	id     uint32
	hasID  bool

	mu       sync.Mutex
	answered bool
}

// Func returns the function name the peer invoked.
func (c *Call) Func() string {
	return c.fn
}

// Params returns the call's inbound parameter bag.
func (c *Call) Params() *Params {
	return c.params
}

// Answered reports whether the answer has been sent.
func (c *Call) Answered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

// Answer transmits answer as the call's return frame group. It may be
// invoked at most once; a second attempt fails with DoubleAnswer.
func (c *Call) Answer(answer *Params) error {
	c.mu.Lock()
	if c.answered {
		c.mu.Unlock()
		return errDoubleAnswer
	}
	c.answered = true
	c.mu.Unlock()

	var f wire.Frame
	if c.hasID {
		f.Return(c.id)
	} else {
		f.AnonymousReturn()
	}
	c.conn.Debug("transmit answer", "func", c.fn, "id", c.id)
	return c.conn.transmit(answer, &f)
}

// CallBack invokes fn on the peer addressed to this call's originating
// caller, so the peer runs handler's counterpart on the goroutine that
// issued the call. It fails with CallAlreadyReturned once the answer has
// been sent.
func (c *Call) CallBack(fn string, params *Params, handler Handler) (*Params, error) {
	if err := c.callBackOK(); err != nil {
		return nil, err
	}
	id, err := c.conn.startCall(fn, params, handler, c.id, true)
	if err != nil {
		return nil, err
	}
	return c.conn.waitAnswer(waiter{id: id, hasID: true})
}

// CallBackLazy is CallBack without the wait; see Connection.CallLazy.
func (c *Call) CallBackLazy(fn string, params *Params, handler Handler) (*Promise, error) {
	if err := c.callBackOK(); err != nil {
		return nil, err
	}
	id, err := c.conn.startCall(fn, params, handler, c.id, true)
	if err != nil {
		return nil, err
	}
	return newPromise(func() (*Params, error) {
		return c.conn.waitAnswer(waiter{id: id, hasID: true})
	}), nil
}

func (c *Call) callBackOK() error {
	if !c.hasID {
		return newErr(InternalError, errors.New("cannot call back a call that arrived without an id"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered {
		return errAlreadyReturned
	}
	return nil
}
