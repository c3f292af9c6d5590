package tandem

import (
	"github.com/tandemrpc/tandem-go/internal/wire"
)

// negotiate performs the one-shot prefer-binary round trip. It gates every
// outbound call: the first caller writes the upgrade request and waits for
// the peer's answer under the reserved negotiation id, later callers block
// on the negotiation lock until the outcome is known. A peer that answers
// O=K upgrades the write mode to binary; any other answer, including one
// from a peer that delivered the request to its application handler as an
// ordinary call, leaves it at text.
func (c *Connection) negotiate() error {
	if c.proto != ProtocolPreferBinary {
		return nil
	}
	c.hsmu.Lock()
	defer c.hsmu.Unlock()
	if c.hsDone {
		return c.hsErr
	}
	// one attempt per connection, even if it fails
	c.hsDone = true
	c.Debug("requesting binary framing")

	c.mu.Lock()
	c.receivers[wire.NegotiationID] = &receiver{site: "binary framing negotiation"}
	c.mu.Unlock()

	c.wmu.Lock()
	err := c.enc.WriteRaw(wire.BinaryRequestAck)
	if err == nil {
		err = c.enc.Flush()
	}
	c.wmu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.receivers, wire.NegotiationID)
		c.mu.Unlock()
		c.hsErr = err
		return err
	}

	bag, err := c.waitAnswer(waiter{id: wire.NegotiationID, hasID: true})
	if err != nil {
		c.hsErr = err
		return err
	}
	if v, ok := bag.Get("O"); ok && v == "K" && bag.Len() == 1 {
		c.wmu.Lock()
		c.enc.SetBinary()
		c.wmu.Unlock()
		c.Debug("binary framing negotiated")
	} else {
		c.Debug("peer declined binary framing, staying with text", "answer", bag)
	}
	return nil
}
