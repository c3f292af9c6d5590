package tandem

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/inconshreveable/log15"
	logext "github.com/inconshreveable/log15/ext"

	"github.com/tandemrpc/tandem-go/internal/wire"
)

// Handler receives inbound calls and callbacks. A non-nil answer is sent
// as the call's answer unless the handler answered it already. Returning
// exit terminates the wait loop the call was delivered to: for Serve that
// ends serving, for a pending Call the call completes with a nil bag. A
// non-nil err aborts the delivering wait loop with that error.
type Handler func(call *Call) (answer *Params, exit bool, err error)

// receiver is the per-id state of one outstanding outbound call: the
// handler for callbacks addressed to it and the callbacks parsed but not
// yet delivered. A nil handler means the originating call supplied none;
// site identifies it for the resulting error message.
type receiver struct {
	handler Handler
	site    string
	queue   []*Call
}

type waiter struct {
	id    uint32
	hasID bool
}

// A Connection multiplexes calls, answers and callbacks over one pair of
// byte streams. It is fully symmetric: there is no client or server role,
// and either peer may initiate calls at any time.
//
// The connection owns no goroutines. All reading happens cooperatively on
// the goroutines that are waiting for answers; whichever waiter currently
// holds the read lock parses frames and dispatches them for everyone.
type Connection struct {
	log15.Logger

	dec *wire.Decoder
	enc *wire.Encoder

	wmu sync.Mutex // serializes outbound frame groups
	rmu sync.Mutex // single-reader invariant, taken with TryLock only

	mu        sync.Mutex // receivers, answers, readErr and cond
	cond      *sync.Cond
	receivers map[uint32]*receiver
	anon      *receiver
	answers   map[uint32]*Params
	readErr   error // first dispatcher-observed error, sticky

	// the inbound param bag being accumulated for the next call or return
	// frame; guarded by rmu so it survives read-duty handoffs
	rets *Params

	idmu   sync.Mutex
	nextID uint32

	detached uint32 // set by Detach, observed by the next read attempt

	proto  Protocol
	hsmu   sync.Mutex // one-shot prefer-binary negotiation
	hsDone bool
	hsErr  error
}

// NewConnection builds a connection reading frames from r and writing
// frames to w. The streams must be an ordered, reliable duplex pair and
// become exclusively owned by the connection. With ProtocolBinary the
// upgrade announcement is written before NewConnection returns.
func NewConnection(r io.Reader, w io.Writer, cfg *Config) (*Connection, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log15.New()
		logger.SetHandler(log15.DiscardHandler())
	}
	if nd, ok := w.(interface{ SetNoDelay(bool) error }); ok {
		// minimize latency for small RPCs
		_ = nd.SetNoDelay(true)
	}
	c := &Connection{
		Logger:    logger.New("obj", "conn", "id", logext.RandId(6)),
		dec:       wire.NewDecoder(r, cfg.Protocol != ProtocolOnlyText),
		enc:       wire.NewEncoder(w),
		receivers: make(map[uint32]*receiver),
		answers:   make(map[uint32]*Params),
		// a small random starting id keeps the wire readable in a debugger
		nextID: uint32(rand.Intn(1000)) + 1,
		proto:  cfg.Protocol,
	}
	c.cond = sync.NewCond(&c.mu)
	if cfg.Protocol == ProtocolBinary {
		c.wmu.Lock()
		err := c.enc.WriteRaw(wire.BinaryRequest)
		if err == nil {
			err = c.enc.Flush()
		}
		if err == nil {
			c.enc.SetBinary()
		}
		c.wmu.Unlock()
		if err != nil {
			return nil, err
		}
		c.Debug("announced binary framing")
	}
	return c, nil
}

// Call invokes fn on the peer with the given params and blocks until the
// peer answers. params may be nil. handler, which may be nil, receives
// callbacks the peer addresses to this call; they run on the calling
// goroutine while it waits. When a callback handler signals exit the call
// completes early with a nil bag.
func (c *Connection) Call(fn string, params *Params, handler Handler) (*Params, error) {
	id, err := c.startCall(fn, params, handler, 0, false)
	if err != nil {
		return nil, err
	}
	return c.waitAnswer(waiter{id: id, hasID: true})
}

// CallLazy is Call without the wait: it transmits the call and returns a
// promise for the answer. The promise's first Force runs the same wait
// loop Call would have run.
func (c *Connection) CallLazy(fn string, params *Params, handler Handler) (*Promise, error) {
	id, err := c.startCall(fn, params, handler, 0, false)
	if err != nil {
		return nil, err
	}
	return newPromise(func() (*Params, error) {
		return c.waitAnswer(waiter{id: id, hasID: true})
	}), nil
}

// Serve registers handler as the connection's anonymous receiver and
// delivers inbound calls to it until the handler signals exit or the peer
// closes the transport. A clean close returns nil. Only one anonymous
// receiver may be registered at a time.
func (c *Connection) Serve(handler Handler) error {
	if handler == nil {
		return newErr(InternalError, errors.New("serve requires a handler"))
	}
	c.mu.Lock()
	if c.anon != nil {
		c.mu.Unlock()
		return newErr(InternalError, errors.New("anonymous receiver already registered"))
	}
	c.anon = &receiver{handler: handler, site: "anonymous receiver"}
	c.mu.Unlock()
	c.Debug("serving")
	_, err := c.waitAnswer(waiter{})
	if code, _ := GetError(err); code == PeerEOF {
		return nil
	}
	return err
}

// Detach marks the connection so that the next read attempt fails with
// ConnectionDetached. The underlying streams are untouched and in-flight
// writes are not cancelled. A read already blocked on the transport is
// not interrupted; close the transport to abort it.
func (c *Connection) Detach() {
	atomic.StoreUint32(&c.detached, 1)
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
	c.Debug("detached")
}

func (c *Connection) allocID() uint32 {
	c.idmu.Lock()
	defer c.idmu.Unlock()
	for {
		id := c.nextID
		c.nextID++ // wraps modulo 2^32
		if id == 0 || id == wire.NegotiationID {
			continue
		}
		return id
	}
}

// startCall registers a receiver slot for a fresh id and transmits the
// call frame group. recvID addresses the frame to one of the peer's
// outstanding calls when hasRecv is set.
func (c *Connection) startCall(fn string, params *Params, handler Handler, recvID uint32, hasRecv bool) (uint32, error) {
	if err := c.negotiate(); err != nil {
		return 0, err
	}
	id := c.allocID()
	c.mu.Lock()
	c.receivers[id] = &receiver{handler: handler, site: fmt.Sprintf("%s (id %d)", fn, id)}
	c.mu.Unlock()

	var f wire.Frame
	if hasRecv {
		f.CallBack([]byte(fn), id, recvID)
		c.Debug("transmit callback", "func", fn, "id", id, "recv", recvID)
	} else {
		f.Call([]byte(fn), id)
		c.Debug("transmit call", "func", fn, "id", id)
	}
	if err := c.transmit(params, &f); err != nil {
		c.mu.Lock()
		delete(c.receivers, id)
		c.mu.Unlock()
		return 0, err
	}
	return id, nil
}

// transmit writes one frame group: the params followed by the closing
// call or return frame, flushed as a unit under the write lock.
func (c *Connection) transmit(params *Params, last *wire.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if params != nil {
		var f wire.Frame
		for _, k := range params.keys {
			f.Param([]byte(k), []byte(params.values[k]))
			if err := c.enc.WriteFrame(&f); err != nil {
				return err
			}
		}
	}
	if err := c.enc.WriteFrame(last); err != nil {
		return err
	}
	return c.enc.Flush()
}

// waitAnswer runs the wait loop for w and removes its receiver slot once
// the loop terminates, so the receiver table only ever holds ids of live
// outstanding calls.
func (c *Connection) waitAnswer(w waiter) (*Params, error) {
	bag, err := c.waitLoop(w)
	c.mu.Lock()
	if w.hasID {
		delete(c.receivers, w.id)
	} else {
		c.anon = nil
	}
	c.mu.Unlock()
	return bag, err
}

// waitLoop blocks until the answer for w arrives, cooperatively taking
// read-duty whenever no other waiter holds it. Callbacks addressed to w
// are delivered to its handler on this goroutine, which is how nested
// callbacks reach the goroutine that issued the originating call.
func (c *Connection) waitLoop(w waiter) (*Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		recv := c.anon
		if w.hasID {
			recv = c.receivers[w.id]
		}
		if recv != nil && len(recv.queue) > 0 {
			call := recv.queue[0]
			recv.queue = recv.queue[1:]
			c.mu.Unlock()
			answer, exit, herr := recv.handler(call)
			var aerr error
			if herr == nil && answer != nil && !call.Answered() {
				aerr = call.Answer(answer)
			}
			c.mu.Lock()
			if herr != nil {
				return nil, herr
			}
			if aerr != nil {
				return nil, aerr
			}
			if exit {
				return nil, nil
			}
			continue
		}
		if w.hasID {
			if bag, ok := c.answers[w.id]; ok {
				delete(c.answers, w.id)
				return bag, nil
			}
		}
		if c.readErr != nil {
			return nil, c.readErr
		}
		if c.rmu.TryLock() {
			c.mu.Unlock()
			err := c.receiveFrame()
			c.rmu.Unlock()
			c.mu.Lock()
			if err != nil && c.readErr == nil {
				c.readErr = err
				c.Error("read duty failed", "err", err)
			}
			c.cond.Broadcast()
			continue
		}
		c.cond.Wait()
	}
}

// receiveFrame parses exactly one frame and dispatches it. It runs with
// the read lock held and the answers lock released.
func (c *Connection) receiveFrame() error {
	if atomic.LoadUint32(&c.detached) != 0 {
		return errDetached
	}
	var f wire.Frame
	if err := c.dec.ReadFrame(&f); err != nil {
		return fromReadError(err)
	}
	switch f.Kind {
	case wire.KindParam:
		if c.rets == nil {
			c.rets = NewParams()
		}
		c.rets.Set(string(f.Key), string(f.Value))
		return nil
	case wire.KindBinaryRequest:
		c.Debug("peer announced binary framing")
		return nil
	case wire.KindBinaryRequestAck:
		c.Debug("peer requested binary framing")
		// the ack is the literal text bytes no matter what we write
		c.wmu.Lock()
		err := c.enc.WriteRaw(wire.TextAck)
		if err == nil {
			err = c.enc.Flush()
		}
		c.wmu.Unlock()
		return err
	case wire.KindCall:
		return c.dispatchCall(&f)
	case wire.KindReturn:
		bag := c.rets
		c.rets = nil
		if bag == nil {
			bag = NewParams()
		}
		c.mu.Lock()
		if f.HasID {
			c.Debug("received answer", "id", f.ID)
			c.answers[f.ID] = bag
		} else {
			// an anonymous return answers an id-less callback; nothing
			// on this side can be waiting for it
			c.Debug("dropping anonymous return frame")
		}
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil
	}
	return newErr(InvalidResponse, fmt.Errorf("unhandled frame kind %v", f.Kind))
}

// dispatchCall hands an inbound call to its receiver: the slot named by
// the frame's recv id, or the anonymous receiver when there is none.
func (c *Connection) dispatchCall(f *wire.Frame) error {
	params := c.rets
	c.rets = nil
	if params == nil {
		params = NewParams()
	}
	call := &Call{
		conn:   c,
		fn:     string(f.Func),
		params: params,
		id:     f.ID,
		hasID:  f.HasID,
	}
	c.Debug("received call", "func", call.fn, "id", f.ID, "recv", f.RecvID)

	c.mu.Lock()
	defer c.mu.Unlock()
	var recv *receiver
	if f.HasRecvID {
		recv = c.receivers[f.RecvID]
		if recv == nil {
			return newErr(NoCallbackDefined,
				fmt.Errorf("no callback defined for %q: call %d already returned", call.fn, f.RecvID))
		}
	} else {
		recv = c.anon
		if recv == nil {
			return newErr(NoCallbackDefined,
				fmt.Errorf("no callback defined for %q", call.fn))
		}
	}
	if recv.handler == nil {
		return newErr(NoCallbackDefined,
			fmt.Errorf("%q delivered to %s, which was issued without a handler", call.fn, recv.site))
	}
	recv.queue = append(recv.queue, call)
	c.cond.Broadcast()
	return nil
}
