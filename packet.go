package comysql

import "fmt"

// maxPacketSegment is the largest length a single physical packet may
// declare (2^24 - 1); a payload at or beyond this size is split/reassembled
// across multiple physical packets (spec.md §3).
const maxPacketSegment = 1<<24 - 1

// defaultMaxPacketSize is MAX_PACKET_SIZE from spec.md §6: the ceiling on
// a reassembled oversize payload.
const defaultMaxPacketSize = 16 * 1024 * 1024

// readPacket reads one logical MySQL packet: a 3-byte LE length + 1-byte
// sequence header, possibly repeated across several physical packets when
// the payload is oversize (spec.md §3, §4.3).
func (c *Conn) readPacket() ([]byte, error) {
	r := c.stream.borrowReader()
	defer c.stream.returnReader(r)

	var payload []byte
	for {
		hdr, err := r.readFull(4)
		if err != nil {
			c.fatal(err)
			return nil, err
		}
		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq := hdr[3]

		if seq != c.sequence {
			var pktErr error
			if seq > c.sequence {
				pktErr = fmt.Errorf("%w: got %d, expected %d", ErrPktSync, seq, c.sequence)
			} else {
				pktErr = fmt.Errorf("%w: sequence went backwards (got %d, expected %d)", ErrPktSync, seq, c.sequence)
			}
			err := &PacketReadError{ConnID: c.id.String(), Err: pktErr}
			c.fatal(err)
			return nil, err
		}
		c.sequence++
		if c.metrics != nil {
			c.metrics.packetsRead.Inc()
		}

		if length == 0 {
			if payload == nil {
				err := &PacketReadError{ConnID: c.id.String(), Err: fmt.Errorf("%w: zero-length packet with no predecessor", ErrMalformedPacket)}
				c.fatal(err)
				return nil, err
			}
			return payload, nil
		}

		if len(payload)+length > c.maxPacketSize {
			err := &PacketReadError{ConnID: c.id.String(), Err: fmt.Errorf("%w: reassembled payload exceeds %d bytes", ErrPktTooLarge, c.maxPacketSize)}
			c.fatal(err)
			return nil, err
		}

		if payload == nil && length < maxPacketSegment {
			// Common case: single physical packet, no reassembly copy. The
			// maxPacketSize check above already rejected anything this
			// path would otherwise allocate unbounded space for.
			body, err := r.readFullBounded(length, c.maxPacketSize)
			if err != nil {
				c.fatal(err)
				return nil, err
			}
			out := make([]byte, length)
			copy(out, body)
			return out, nil
		}

		body, err := r.readFullBounded(length, c.maxPacketSize-len(payload))
		if err != nil {
			c.fatal(err)
			return nil, err
		}
		payload = append(payload, body...)

		if length < maxPacketSegment {
			return payload, nil
		}
		// else: length == maxPacketSegment, loop for the continuation.
	}
}

// writePacket frames payload as one or more physical packets, splitting
// at maxPacketSegment and terminating with a (possibly zero-length) final
// packet (spec.md §3, §4.4).
func (c *Conn) writePacket(payload []byte) error {
	w := c.stream.borrowWriter()
	defer c.stream.returnWriter(w)

	for {
		n := len(payload)
		if n > maxPacketSegment {
			n = maxPacketSegment
		}
		var hdr [4]byte
		hdr[0] = byte(n)
		hdr[1] = byte(n >> 8)
		hdr[2] = byte(n >> 16)
		hdr[3] = c.sequence

		if err := w.writeBytes(hdr[:]); err != nil {
			c.fatal(err)
			return err
		}
		if err := w.writeBytes(payload[:n]); err != nil {
			c.fatal(err)
			return err
		}
		c.sequence++
		if c.metrics != nil {
			c.metrics.packetsWritten.Inc()
		}
		payload = payload[n:]

		if n < maxPacketSegment {
			return w.flush()
		}
		if len(payload) == 0 {
			// Exact multiple of maxPacketSegment: emit the terminating
			// zero-length packet.
			var zero [4]byte
			zero[3] = c.sequence
			if err := w.writeBytes(zero[:]); err != nil {
				c.fatal(err)
				return err
			}
			c.sequence++
			return w.flush()
		}
	}
}
