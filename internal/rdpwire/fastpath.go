package rdpwire

import (
	"encoding/binary"
	"fmt"
)

// FastPathInput is one event in a fast-path input PDU (MS-RDPBCGR
// 2.2.8.1.2.2).
type FastPathInput interface {
	appendTo(buf []byte) []byte
}

// MouseEvent is a fast-path pointer event. PointerFlags is a combination
// of the PtrFlag constants, X and Y are desktop coordinates.
type MouseEvent struct {
	PointerFlags uint16
	X            uint16
	Y            uint16
}

func (e MouseEvent) appendTo(buf []byte) []byte {
	buf = append(buf, fpInputMouse<<5)
	buf = binary.LittleEndian.AppendUint16(buf, e.PointerFlags)
	buf = binary.LittleEndian.AppendUint16(buf, e.X)
	return binary.LittleEndian.AppendUint16(buf, e.Y)
}

// KeyEvent is a fast-path scancode event. Flags is a combination of the
// KbdFlag constants.
type KeyEvent struct {
	Flags    byte
	Scancode byte
}

func (e KeyEvent) appendTo(buf []byte) []byte {
	return append(buf, fpInputScancode<<5|e.Flags&0x1f, e.Scancode)
}

// SyncEvent reports the client's keyboard lock state.
type SyncEvent struct {
	ToggleFlags byte
}

func (e SyncEvent) appendTo(buf []byte) []byte {
	return append(buf, fpInputSync<<5|e.ToggleFlags&0x1f)
}

// EncodeFastPathInput serializes events into a single fast-path input
// PDU ready to write on the wire.
func EncodeFastPathInput(events []FastPathInput) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("rdpwire: no input events to encode")
	}
	if len(events) > 15 {
		return nil, fmt.Errorf("rdpwire: %d input events exceed the fast-path header limit", len(events))
	}

	var body []byte
	for _, e := range events {
		body = e.appendTo(body)
	}

	header := byte(len(events) << 2)

	// the length field covers the whole PDU including itself
	total := 1 + 1 + len(body)
	if total > 0x7f {
		total = 1 + 2 + len(body)
		pdu := make([]byte, 0, total)
		pdu = append(pdu, header, 0x80|byte(total>>8), byte(total))
		return append(pdu, body...), nil
	}
	pdu := make([]byte, 0, total)
	pdu = append(pdu, header, byte(total))
	return append(pdu, body...), nil
}
