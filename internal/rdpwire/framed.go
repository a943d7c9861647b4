package rdpwire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Action classifies an inbound PDU by its framing.
type Action int

const (
	// ActionX224 is a TPKT-framed slow-path PDU.
	ActionX224 Action = iota
	// ActionFastPath is a fast-path output PDU.
	ActionFastPath
)

var errFastpathEncrypted = errors.New("rdpwire: fast-path PDU flagged encrypted after TLS upgrade")

// Framed wraps a stream connection and reads whole PDUs off it. A TPKT
// header (version byte 0x03) marks a slow-path PDU; anything else is
// fast-path. The caller owns all locking.
type Framed struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewFramed wraps conn. Constructed twice per session: once over the raw
// TCP stream for the negotiation phase and again over the TLS stream.
func NewFramed(conn net.Conn) *Framed {
	return &Framed{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 64*1024),
	}
}

// SetReadDeadline bounds the next ReadPDU call.
func (f *Framed) SetReadDeadline(t time.Time) error {
	return f.conn.SetReadDeadline(t)
}

// ReadPDU reads exactly one PDU. For ActionX224 the payload is the TPKT
// body including its X.224 header; for ActionFastPath the payload is the
// fast-path data after the header and length bytes.
func (f *Framed) ReadPDU() (Action, []byte, error) {
	header, err := f.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	if header == 0x03 {
		return f.readTPKT(header)
	}
	return f.readFastPath(header)
}

func (f *Framed) readTPKT(version byte) (Action, []byte, error) {
	var rest [3]byte
	if _, err := io.ReadFull(f.r, rest[:]); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint16(rest[1:3])
	if length < 4 {
		return 0, nil, fmt.Errorf("rdpwire: invalid TPKT length %d", length)
	}

	payload := make([]byte, length-4)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return 0, nil, err
	}
	return ActionX224, payload, nil
}

func (f *Framed) readFastPath(header byte) (Action, []byte, error) {
	// flags live in bits 6-7; with TLS in place the server must not use
	// legacy fast-path encryption
	if header&0x80 != 0 {
		return 0, nil, errFastpathEncrypted
	}

	b, err := f.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	length := int(b)
	consumed := 2
	if b&0x80 != 0 {
		b2, err := f.r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		length = int(b&0x7F)<<8 | int(b2)
		consumed = 3
	}
	if length < consumed {
		return 0, nil, fmt.Errorf("rdpwire: invalid fast-path length %d", length)
	}

	payload := make([]byte, length-consumed)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return 0, nil, err
	}
	return ActionFastPath, payload, nil
}

// Write sends raw bytes. Frames produced by this package already carry
// their TPKT or fast-path headers.
func (f *Framed) Write(p []byte) error {
	_, err := f.conn.Write(p)
	return err
}

// WriteX224Data wraps payload in a TPKT header plus an X.224 data TPDU
// and sends it.
func (f *Framed) WriteX224Data(payload []byte) error {
	_, err := f.conn.Write(wrapX224Data(payload))
	return err
}

// wrapX224Data frames payload as TPKT + X.224 DT TPDU.
func wrapX224Data(payload []byte) []byte {
	buf := make([]byte, 0, 7+len(payload))
	buf = appendTPKTHeader(buf, 7+len(payload))
	buf = append(buf, 0x02, 0xF0, 0x80) // LI=2, DT, EOT
	return append(buf, payload...)
}

func appendTPKTHeader(buf []byte, total int) []byte {
	return append(buf, 0x03, 0x00, byte(total>>8), byte(total))
}

// stripX224Data removes the three-byte X.224 data header if present.
func stripX224Data(payload []byte) []byte {
	if len(payload) >= 3 && payload[0] == 0x02 && payload[1] == 0xF0 && payload[2] == 0x80 {
		return payload[3:]
	}
	return payload
}

// IsTimeout reports whether err is a transient read-deadline expiry. Such
// reads are a normal, silent, high-frequency event for the session engine.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err indicates the peer closed or reset the
// connection.
func IsClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}
