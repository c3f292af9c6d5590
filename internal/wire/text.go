package wire

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// A Decoder reads one frame at a time from the transport. It starts out in
// text mode and switches itself to binary on parsing either upgrade literal,
// unless upgrades are disabled. The switch is permanent for the life of the
// stream.
type Decoder struct {
	r        *bufio.Reader
	b        [4]byte
	binary   bool
	upgrades bool
	pending  []Frame
}

// NewDecoder wraps r. With upgrades false the binary request literals are
// not recognized and parse as ordinary call frames, which is how peers
// predating the binary framing behave.
func NewDecoder(r io.Reader, upgrades bool) *Decoder {
	return &Decoder{r: bufio.NewReader(r), upgrades: upgrades}
}

// Binary reports whether the decoder has switched to binary framing.
func (d *Decoder) Binary() bool {
	return d.binary
}

// ReadFrame parses exactly one frame into f. It blocks until a full frame
// is available or the transport errors.
func (d *Decoder) ReadFrame(f *Frame) error {
	if len(d.pending) > 0 {
		*f = d.pending[0]
		d.pending = d.pending[1:]
		return nil
	}
	if d.binary {
		return d.readBinary(f)
	}
	return d.readText(f)
}

func (d *Decoder) readText(f *Frame) error {
	line, err := d.r.ReadBytes(sepLine)
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return protoError("transport closed mid-line: %q", line)
		}
		return err
	}
	line = line[:len(line)-1]
	// tolerate CRLF-translating transports
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}

	if len(line) == 0 {
		f.AnonymousReturn()
		f.HasID = false
		return nil
	}

	if d.upgrades && line[0] == '\r' {
		switch {
		case bytes.Equal(line, BinaryRequest[:len(BinaryRequest)-1]):
			d.binary = true
			*f = Frame{Kind: KindBinaryRequest}
			return nil
		case bytes.Equal(line, BinaryRequestAck[:len(BinaryRequestAck)-1]):
			d.binary = true
			*f = Frame{Kind: KindBinaryRequestAck}
			return nil
		}
	}

	if i := bytes.IndexByte(line, sepParam); i >= 0 {
		f.Param(Unescape(line[:i]), Unescape(line[i+1:]))
		return nil
	}

	fields := bytes.Split(line, []byte{sepFrame})
	switch len(fields) {
	case 1:
		// a call that arrived without an id; its answer is anonymous
		*f = Frame{Kind: KindCall, Func: Unescape(fields[0])}
		return nil
	case 2:
		id, err := parseID(fields[1])
		if err != nil {
			return err
		}
		if len(fields[0]) == 0 {
			f.Return(id)
			return nil
		}
		f.Call(Unescape(fields[0]), id)
		return nil
	case 3:
		id, err := parseID(fields[1])
		if err != nil {
			return err
		}
		recv, err := parseID(fields[2])
		if err != nil {
			return err
		}
		f.CallBack(Unescape(fields[0]), id, recv)
		return nil
	}
	return protoError("line matches no frame shape: %q", line)
}

func parseID(field []byte) (uint32, error) {
	id, err := strconv.ParseUint(string(field), 10, 32)
	if err != nil {
		return 0, protoError("bad frame id %q", field)
	}
	return uint32(id), nil
}

// An Encoder serializes frames to the transport through a write buffer.
// Param runs larger than the buffer flush mid-frame on their own; the
// closing call/return frame of a group rides the caller's explicit Flush.
type Encoder struct {
	w       *bufio.Writer
	binary  bool
	scratch [16]byte
}

const writeBufferSize = 10 * 1024

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, writeBufferSize)}
}

// Binary reports whether the encoder emits binary frames.
func (e *Encoder) Binary() bool {
	return e.binary
}

// SetBinary switches the encoder to binary framing. There is no way back.
func (e *Encoder) SetBinary() {
	e.binary = true
}

// WriteFrame buffers one serialized frame.
func (e *Encoder) WriteFrame(f *Frame) error {
	switch f.Kind {
	case KindBinaryRequest:
		// upgrade literals are text bytes in either mode
		_, err := e.w.Write(BinaryRequest)
		return err
	case KindBinaryRequestAck:
		_, err := e.w.Write(BinaryRequestAck)
		return err
	}
	if err := f.sizeOK(); err != nil {
		return err
	}
	if e.binary {
		return e.writeBinary(f)
	}
	return e.writeText(f)
}

// WriteRaw buffers p verbatim, bypassing the frame codec. The negotiator
// uses it for the upgrade literals and the text ack.
func (e *Encoder) WriteRaw(p []byte) error {
	_, err := e.w.Write(p)
	return err
}

// Flush pushes all buffered bytes to the transport.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

func (f *Frame) sizeOK() error {
	if len(f.Key) > maxFieldSize {
		return frameSizeError(uint32(maxFieldSize), "key")
	}
	if len(f.Value) > maxFieldSize {
		return frameSizeError(uint32(maxFieldSize), "value")
	}
	if len(f.Func) > maxFieldSize {
		return frameSizeError(uint32(maxFieldSize), "function")
	}
	return nil
}

func (e *Encoder) writeText(f *Frame) error {
	switch f.Kind {
	case KindParam:
		if _, err := e.w.Write(Escape(f.Key)); err != nil {
			return err
		}
		if err := e.w.WriteByte(sepParam); err != nil {
			return err
		}
		if _, err := e.w.Write(Escape(f.Value)); err != nil {
			return err
		}
		return e.w.WriteByte(sepLine)
	case KindCall:
		if _, err := e.w.Write(Escape(f.Func)); err != nil {
			return err
		}
		if f.HasID {
			if err := e.writeTextID(f.ID); err != nil {
				return err
			}
		}
		if f.HasRecvID {
			if err := e.writeTextID(f.RecvID); err != nil {
				return err
			}
		}
		return e.w.WriteByte(sepLine)
	case KindReturn:
		if f.HasID {
			if err := e.writeTextID(f.ID); err != nil {
				return err
			}
		}
		return e.w.WriteByte(sepLine)
	}
	return protoError("cannot serialize frame kind %v", f.Kind)
}

func (e *Encoder) writeTextID(id uint32) error {
	if err := e.w.WriteByte(sepFrame); err != nil {
		return err
	}
	_, err := e.w.Write(strconv.AppendUint(e.scratch[:0], uint64(id), 10))
	return err
}
