package tandem

import (
	"runtime"
	"strconv"
	"sync"
)

// Promise is the lazy answer to a call issued with CallLazy or
// CallBackLazy: a single-assignment cell whose first Force runs the wait
// loop the eager call would have run, taking read-duty as needed.
//
// Force is idempotent and safe for concurrent use; all observers
// rendezvous on the same result. When the transport closes before the
// answer arrives, Force yields a nil bag together with the transport
// error. Forcing a promise from inside its own wait loop, for example
// from a callback handler the promise is currently delivering, fails
// with PromiseReentry.
type Promise struct {
	mu     sync.Mutex
	done   chan struct{}
	forcer uint64
	bag    *Params
	err    error
	thunk  func() (*Params, error)
}

func newPromise(thunk func() (*Params, error)) *Promise {
	return &Promise{thunk: thunk}
}

// Force blocks until the promise's call has completed and returns the
// answer bag.
func (p *Promise) Force() (*Params, error) {
	p.mu.Lock()
	if p.done == nil {
		done := make(chan struct{})
		p.done = done
		p.forcer = goroutineID()
		p.mu.Unlock()

		bag, err := p.thunk()

		p.mu.Lock()
		p.bag, p.err = bag, err
		p.forcer = 0
		p.thunk = nil
		p.mu.Unlock()
		close(done)
		return bag, err
	}
	done := p.done
	forcer := p.forcer
	p.mu.Unlock()

	select {
	case <-done:
	default:
		if forcer != 0 && forcer == goroutineID() {
			return nil, errPromiseReentry
		}
		<-done
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bag, p.err
}

// goroutineID reads the current goroutine's id out of its stack header.
// It is used only to recognize a promise forcing itself, never to pass
// state between goroutines.
func goroutineID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	s := buf[:n]
	// the header reads "goroutine 123 [running]:"
	const prefix = "goroutine "
	if len(s) <= len(prefix) {
		return 0
	}
	s = s[len(prefix):]
	for i, b := range s {
		if b == ' ' {
			s = s[:i]
			break
		}
	}
	id, _ := strconv.ParseUint(string(s), 10, 64)
	return id
}
