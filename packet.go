package msqlsrv

import (
	"bufio"
	"fmt"
	"io"
)

// maxPacketSize is the largest payload a single MySQL packet may carry.
// Longer payloads are split into chunks of exactly this size, terminated
// by a short (possibly empty) final chunk.
const maxPacketSize = 1<<24 - 1

// ProtocolError reports a violation of MySQL wire framing: a truncated
// header or payload, or a sequence id that doesn't match what the framer
// expected. It is always fatal to the connection.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("msqlsrv: protocol error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("msqlsrv: protocol error: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(msg string, err error) error {
	return &ProtocolError{Msg: msg, Err: err}
}

// packetFramer reads and writes length-prefixed MySQL packets over a single
// duplex stream. A single sequence counter is shared by reads and writes:
// each packet read must carry the current value and each packet written is
// stamped with it, and either advances it by one. The dispatcher resets it
// to 0 at the start of every client command (§4.D).
type packetFramer struct {
	r   *bufio.Reader
	w   io.Writer
	seq byte
}

func newPacketFramer(rw io.ReadWriter) *packetFramer {
	return &packetFramer{r: bufio.NewReaderSize(rw, 16*1024), w: rw}
}

// resetSeq zeroes the sequence counter. Called by the dispatcher when it
// begins accepting a new client command.
func (f *packetFramer) resetSeq() {
	f.seq = 0
}

// setStream swaps the underlying reader/writer, used for the mid-handshake
// TLS upgrade: everything after the SSLRequest packet flows through the TLS
// conn instead of the raw socket. The sequence counter is left untouched —
// the handshake response that follows continues the same sequence.
func (f *packetFramer) setStream(rw io.ReadWriter) {
	f.r = bufio.NewReaderSize(rw, 16*1024)
	f.w = rw
}

// readPacket reads one logical packet, transparently reassembling a message
// that was split across multiple max-size physical packets.
func (f *packetFramer) readPacket() ([]byte, error) {
	var payload []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
			if err == io.EOF && len(payload) == 0 {
				return nil, io.EOF
			}
			return nil, protoErr("reading packet header", err)
		}
		length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
		seq := hdr[3]
		if seq != f.seq {
			return nil, protoErr(fmt.Sprintf("unexpected sequence id: got %d, want %d", seq, f.seq), nil)
		}
		f.seq++

		chunk := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(f.r, chunk); err != nil {
				return nil, protoErr("reading packet payload", err)
			}
		}
		payload = append(payload, chunk...)

		if length < maxPacketSize {
			return payload, nil
		}
	}
}

// writePacket writes a logical packet, splitting it into maxPacketSize
// chunks followed by a short (possibly zero-length) terminating chunk so
// the peer knows where the message ends.
func (f *packetFramer) writePacket(payload []byte) error {
	for {
		n := len(payload)
		if n > maxPacketSize {
			n = maxPacketSize
		}
		if err := f.writeRaw(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
		if n < maxPacketSize {
			return nil
		}
		if len(payload) == 0 {
			// Exact multiple of maxPacketSize: emit the mandatory
			// zero-length terminator chunk.
			return f.writeRaw(nil)
		}
	}
}

func (f *packetFramer) writeRaw(payload []byte) error {
	var hdr [4]byte
	n := len(payload)
	hdr[0] = byte(n)
	hdr[1] = byte(n >> 8)
	hdr[2] = byte(n >> 16)
	hdr[3] = f.seq
	f.seq++

	if _, err := f.w.Write(hdr[:]); err != nil {
		return protoErr("writing packet header", err)
	}
	if n > 0 {
		if _, err := f.w.Write(payload); err != nil {
			return protoErr("writing packet payload", err)
		}
	}
	return nil
}
