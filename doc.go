// Package tandem implements a symmetric RPC connection engine that
// multiplexes calls, answers and nested callbacks over a single pair of
// ordered byte streams: a pipe pair, a TCP or TLS socket, or the standard
// handles of a subprocess.
//
// A call carries a function name and a string-to-string parameter bag; an
// answer carries a parameter bag. Either peer may initiate calls at any
// time, and a handler may issue further calls or callbacks while its own
// caller is suspended waiting for an answer. Callbacks addressed to an
// outstanding call run on the goroutine that issued that call; the engine
// itself owns no goroutines. Whichever caller is currently waiting takes
// read-duty and drives frame dispatch for everyone else.
//
// The wire protocol has a human-readable line-oriented text form and a
// length-prefixed binary form; a connection can upgrade from text to
// binary at runtime through a negotiation round trip (see Protocol).
package tandem
