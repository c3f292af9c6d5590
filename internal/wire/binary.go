package wire

import (
	"bytes"
	"io"
)

func (d *Decoder) readBinary(f *Frame) error {
	t, err := d.r.ReadByte()
	if err != nil {
		return err
	}
	switch t {
	case binParam:
		// both size fields precede the key and value bodies
		ksize, err := d.readU32()
		if err != nil {
			return err
		}
		vsize, err := d.readU32()
		if err != nil {
			return err
		}
		if ksize > maxFieldSize {
			return frameSizeError(ksize, "key")
		}
		if vsize > maxFieldSize {
			return frameSizeError(vsize, "value")
		}
		p := make([]byte, ksize+vsize)
		if _, err := io.ReadFull(d.r, p); err != nil {
			return err
		}
		f.Param(p[:ksize:ksize], p[ksize:])
		return nil
	case binCall:
		id, err := d.readU32()
		if err != nil {
			return err
		}
		fn, err := d.readField("function")
		if err != nil {
			return err
		}
		*f = Frame{Kind: KindCall, Func: fn, ID: id, HasID: id != 0}
		return nil
	case binCallBack:
		id, err := d.readU32()
		if err != nil {
			return err
		}
		recv, err := d.readU32()
		if err != nil {
			return err
		}
		fn, err := d.readField("function")
		if err != nil {
			return err
		}
		f.CallBack(fn, id, recv)
		return nil
	case binReturn:
		id, err := d.readU32()
		if err != nil {
			return err
		}
		*f = Frame{Kind: KindReturn, ID: id, HasID: id != 0}
		return nil
	case TextAck[0]:
		// the negotiation ack is sent as text even to a reader that has
		// already switched; it decodes to a param frame and a queued return
		rest := make([]byte, len(TextAck)-1)
		if _, err := io.ReadFull(d.r, rest); err != nil {
			return err
		}
		if !bytes.Equal(rest, TextAck[1:]) {
			return protoError("malformed negotiation ack: %q", rest)
		}
		f.Param([]byte("O"), []byte("K"))
		var ret Frame
		ret.Return(NegotiationID)
		d.pending = append(d.pending, ret)
		return nil
	}
	return protoError("unknown binary frame type: 0x%x", t)
}

func (d *Decoder) readU32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.b[:]); err != nil {
		return 0, err
	}
	return order.Uint32(d.b[:]), nil
}

func (d *Decoder) readField(name string) ([]byte, error) {
	size, err := d.readU32()
	if err != nil {
		return nil, err
	}
	if size > maxFieldSize {
		return nil, frameSizeError(size, name)
	}
	p := make([]byte, size)
	if _, err := io.ReadFull(d.r, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Encoder) writeBinary(f *Frame) error {
	switch f.Kind {
	case KindParam:
		if err := e.w.WriteByte(binParam); err != nil {
			return err
		}
		if err := e.writeU32(uint32(len(f.Key))); err != nil {
			return err
		}
		if err := e.writeU32(uint32(len(f.Value))); err != nil {
			return err
		}
		if _, err := e.w.Write(f.Key); err != nil {
			return err
		}
		_, err := e.w.Write(f.Value)
		return err
	case KindCall:
		if f.HasRecvID {
			if err := e.w.WriteByte(binCallBack); err != nil {
				return err
			}
			if err := e.writeU32(f.ID); err != nil {
				return err
			}
			if err := e.writeU32(f.RecvID); err != nil {
				return err
			}
		} else {
			if err := e.w.WriteByte(binCall); err != nil {
				return err
			}
			// id zero marks the anonymous call
			if err := e.writeU32(f.ID); err != nil {
				return err
			}
		}
		if err := e.writeU32(uint32(len(f.Func))); err != nil {
			return err
		}
		_, err := e.w.Write(f.Func)
		return err
	case KindReturn:
		if err := e.w.WriteByte(binReturn); err != nil {
			return err
		}
		return e.writeU32(f.ID)
	}
	return protoError("cannot serialize frame kind %v", f.Kind)
}

func (e *Encoder) writeU32(v uint32) error {
	order.PutUint32(e.scratch[:4], v)
	_, err := e.w.Write(e.scratch[:4])
	return err
}
