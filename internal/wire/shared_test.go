package wire

import (
	"bytes"
	"reflect"
	"testing"
)

type codecTest struct {
	name   string
	frame  Frame
	text   []byte // expected text serialization, nil to skip the text leg
	binary []byte // expected binary serialization, nil to skip the binary leg
}

func runCodecTest(t *testing.T, ct codecTest) {
	if ct.text != nil {
		runEncodeTest(t, ct, false, ct.text)
		runDecodeTest(t, ct, false, ct.text)
	}
	if ct.binary != nil {
		runEncodeTest(t, ct, true, ct.binary)
		runDecodeTest(t, ct, true, ct.binary)
	}
}

func runEncodeTest(t *testing.T, ct codecTest, binary bool, expected []byte) {
	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	if binary {
		enc.SetBinary()
	}
	f := ct.frame
	if err := enc.WriteFrame(&f); err != nil {
		t.Errorf("%s: encode failed: %v", ct.name, err)
		return
	}
	if err := enc.Flush(); err != nil {
		t.Errorf("%s: flush failed: %v", ct.name, err)
		return
	}
	if !bytes.Equal(buf.Bytes(), expected) {
		t.Errorf("%s: serialized to %q, expected %q", ct.name, buf.Bytes(), expected)
	}
}

func runDecodeTest(t *testing.T, ct codecTest, binary bool, serialized []byte) {
	dec := NewDecoder(bytes.NewReader(serialized), true)
	dec.binary = binary
	var f Frame
	if err := dec.ReadFrame(&f); err != nil {
		t.Errorf("%s: decode failed: %v", ct.name, err)
		return
	}
	if !framesEqual(&f, &ct.frame) {
		t.Errorf("%s: decoded %+v, expected %+v", ct.name, f, ct.frame)
	}
}

// framesEqual treats nil and empty byte fields as the same value.
func framesEqual(a, b *Frame) bool {
	norm := func(f *Frame) Frame {
		g := *f
		if len(g.Key) == 0 {
			g.Key = nil
		}
		if len(g.Value) == 0 {
			g.Value = nil
		}
		if len(g.Func) == 0 {
			g.Func = nil
		}
		return g
	}
	return reflect.DeepEqual(norm(a), norm(b))
}
