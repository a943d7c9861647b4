package rdpwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MCS (T.125) domain opcodes, already shifted into the high six bits of
// the first PDU byte.
const (
	mcsErectDomain         = 0x04
	mcsAttachUserRequest   = 0x28
	mcsAttachUserConfirm   = 0x2C
	mcsChannelJoinRequest  = 0x38
	mcsChannelJoinConfirm  = 0x3C
	mcsSendDataRequest     = 0x64
	mcsSendDataIndication  = 0x68
	mcsDisconnectUltimatum = 0x20
)

// GCC client data block types.
const (
	csCore     = 0xC001
	csSecurity = 0xC002
	csNet      = 0xC003
)

// buildMCSConnectInitial produces the BER-encoded Connect-Initial PDU
// carrying the GCC conference create request with the client core,
// security and network blocks.
func buildMCSConnectInitial(width, height uint16, highColorDepth uint16, clientName string, selectedProtocol uint32) []byte {
	gcc := buildGCCRequest(width, height, highColorDepth, clientName, selectedProtocol)

	var body bytes.Buffer
	body.Write([]byte{0x04, 0x01, 0x01}) // callingDomainSelector
	body.Write([]byte{0x04, 0x01, 0x01}) // calledDomainSelector
	body.Write([]byte{0x01, 0x01, 0xff}) // upwardFlag
	writeDomainParams(&body, 34, 2, 0, 0xffff)
	writeDomainParams(&body, 1, 1, 1, 0x420)
	writeDomainParams(&body, 0xffff, 0xfc17, 0xffff, 0xffff)
	body.WriteByte(0x04)
	writeBERLength(&body, len(gcc))
	body.Write(gcc)

	var out bytes.Buffer
	out.Write([]byte{0x7f, 0x65})
	writeBERLength(&out, body.Len())
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeDomainParams(buf *bytes.Buffer, maxChannels, maxUsers, maxTokens, maxPDUSize int) {
	var inner bytes.Buffer
	for _, v := range []int{maxChannels, maxUsers, maxTokens, 1, 0, 1, maxPDUSize, 2} {
		writeBERInteger(&inner, v)
	}
	buf.WriteByte(0x30)
	writeBERLength(buf, inner.Len())
	buf.Write(inner.Bytes())
}

func writeBERInteger(buf *bytes.Buffer, v int) {
	switch {
	case v <= 0xff:
		buf.Write([]byte{0x02, 0x01, byte(v)})
	case v <= 0xffff:
		buf.Write([]byte{0x02, 0x02, byte(v >> 8), byte(v)})
	default:
		buf.Write([]byte{0x02, 0x03, byte(v >> 16), byte(v >> 8), byte(v)})
	}
}

func writeBERLength(buf *bytes.Buffer, n int) {
	switch {
	case n < 0x80:
		buf.WriteByte(byte(n))
	case n <= 0xff:
		buf.Write([]byte{0x81, byte(n)})
	default:
		buf.Write([]byte{0x82, byte(n >> 8), byte(n)})
	}
}

func buildGCCRequest(width, height uint16, highColorDepth uint16, clientName string, selectedProtocol uint32) []byte {
	blocks := append(buildClientCoreData(width, height, highColorDepth, clientName, selectedProtocol),
		buildClientSecurityData()...)
	blocks = append(blocks, buildClientNetworkData()...)

	var inner bytes.Buffer
	// ConferenceCreateRequest with the H.221 client-to-server key "Duca"
	inner.Write([]byte{0x00, 0x08, 0x00, 0x10, 0x00, 0x01, 0xc0, 0x00, 'D', 'u', 'c', 'a'})
	writePERLength(&inner, len(blocks))
	inner.Write(blocks)

	var out bytes.Buffer
	// T.124 object identifier 0.0.20.124.0.1 and connect PDU header
	out.Write([]byte{0x00, 0x05, 0x00, 0x14, 0x7c, 0x00, 0x01})
	writePERLength(&out, inner.Len())
	out.Write(inner.Bytes())
	return out.Bytes()
}

func writePERLength(buf *bytes.Buffer, n int) {
	buf.WriteByte(0x80 | byte(n>>8))
	buf.WriteByte(byte(n))
}

func buildClientCoreData(width, height uint16, highColorDepth uint16, clientName string, selectedProtocol uint32) []byte {
	buf := make([]byte, 216)
	binary.LittleEndian.PutUint16(buf[0:], csCore)
	binary.LittleEndian.PutUint16(buf[2:], 216)
	binary.LittleEndian.PutUint32(buf[4:], 0x00080004) // RDP 5.0+
	binary.LittleEndian.PutUint16(buf[8:], width)
	binary.LittleEndian.PutUint16(buf[10:], height)
	binary.LittleEndian.PutUint16(buf[12:], 0xca01) // colorDepth, superseded below
	binary.LittleEndian.PutUint16(buf[14:], 0xaa03) // SASSequence
	binary.LittleEndian.PutUint32(buf[16:], 0x409)  // keyboard layout
	binary.LittleEndian.PutUint32(buf[20:], 2600)   // client build

	name := utf16LE(clientName)
	if len(name) > 30 {
		name = name[:30]
	}
	copy(buf[24:], name) // 32-byte field, NUL padded

	binary.LittleEndian.PutUint32(buf[56:], 4)  // keyboard type IBM enhanced
	binary.LittleEndian.PutUint32(buf[64:], 12) // function keys
	// imeFileName buf[68:132] stays zero
	binary.LittleEndian.PutUint16(buf[132:], 0xca01) // postBeta2ColorDepth
	binary.LittleEndian.PutUint16(buf[134:], 1)      // clientProductId
	binary.LittleEndian.PutUint16(buf[140:], highColorDepth)
	binary.LittleEndian.PutUint16(buf[142:], 0x000f) // supports 15/16/24/32 bpp
	binary.LittleEndian.PutUint16(buf[144:], 0x0001) // supports errinfo PDU
	// clientDigProductId buf[146:210] stays zero
	binary.LittleEndian.PutUint32(buf[212:], selectedProtocol)
	return buf
}

func buildClientSecurityData() []byte {
	// encryption handled by TLS, both method fields zero
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:], csSecurity)
	binary.LittleEndian.PutUint16(buf[2:], 12)
	return buf
}

func buildClientNetworkData() []byte {
	// no static virtual channels
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:], csNet)
	binary.LittleEndian.PutUint16(buf[2:], 8)
	return buf
}

// parseMCSConnectResponse checks the BER Connect-Response result field.
func parseMCSConnectResponse(payload []byte) error {
	if len(payload) < 2 || payload[0] != 0x7f || payload[1] != 0x66 {
		return fmt.Errorf("rdpwire: unexpected MCS connect response header")
	}
	rest, err := skipBERLength(payload[2:])
	if err != nil {
		return err
	}
	if len(rest) < 3 || rest[0] != 0x0a || rest[1] != 0x01 {
		return fmt.Errorf("rdpwire: MCS connect response missing result")
	}
	if rest[2] != 0 {
		return fmt.Errorf("rdpwire: MCS connect rejected with result %d", rest[2])
	}
	return nil
}

func skipBERLength(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("rdpwire: truncated BER length")
	}
	if b[0] < 0x80 {
		return b[1:], nil
	}
	n := int(b[0] & 0x7f)
	if len(b) < 1+n {
		return nil, fmt.Errorf("rdpwire: truncated BER length")
	}
	return b[1+n:], nil
}

func buildErectDomain() []byte {
	return []byte{mcsErectDomain, 0x01, 0x00, 0x01, 0x00}
}

func buildAttachUserRequest() []byte {
	return []byte{mcsAttachUserRequest}
}

// parseAttachUserConfirm returns the user channel ID assigned by the
// server.
func parseAttachUserConfirm(payload []byte) (uint16, error) {
	if len(payload) < 2 || payload[0]>>2 != mcsAttachUserConfirm>>2 {
		return 0, fmt.Errorf("rdpwire: expected MCS attach user confirm")
	}
	if payload[1] != 0 {
		return 0, fmt.Errorf("rdpwire: MCS attach user rejected with result %d", payload[1])
	}
	if payload[0]&0x02 == 0 || len(payload) < 4 {
		return 0, fmt.Errorf("rdpwire: MCS attach user confirm carries no initiator")
	}
	return binary.BigEndian.Uint16(payload[2:]) + baseChannelID, nil
}

func buildChannelJoinRequest(userID, channelID uint16) []byte {
	buf := make([]byte, 5)
	buf[0] = mcsChannelJoinRequest
	binary.BigEndian.PutUint16(buf[1:], userID-baseChannelID)
	binary.BigEndian.PutUint16(buf[3:], channelID)
	return buf
}

func parseChannelJoinConfirm(payload []byte, channelID uint16) error {
	if len(payload) < 2 || payload[0]>>2 != mcsChannelJoinConfirm>>2 {
		return fmt.Errorf("rdpwire: expected MCS channel join confirm")
	}
	if payload[1] != 0 {
		return fmt.Errorf("rdpwire: join of channel %d rejected with result %d", channelID, payload[1])
	}
	return nil
}

// wrapMCSSendData frames data as an MCS send-data-request on channelID.
func wrapMCSSendData(userID, channelID uint16, data []byte) []byte {
	buf := make([]byte, 0, 8+len(data))
	buf = append(buf, mcsSendDataRequest)
	buf = binary.BigEndian.AppendUint16(buf, userID-baseChannelID)
	buf = binary.BigEndian.AppendUint16(buf, channelID)
	buf = append(buf, 0x70) // dataPriority high, segmentation begin+end
	buf = append(buf, 0x80|byte(len(data)>>8), byte(len(data)))
	return append(buf, data...)
}

// disconnectUltimatumError reports the server's orderly MCS goodbye
// (logoff, admin disconnect). Reason carries the 3-bit PER reason code.
type disconnectUltimatumError struct {
	reason byte
}

func (e *disconnectUltimatumError) Error() string {
	return fmt.Sprintf("rdpwire: server sent MCS disconnect ultimatum (reason %d)", e.reason)
}

// unwrapMCSSendData parses a send-data-indication, returning the channel
// it arrived on and its payload. A disconnect-provider-ultimatum is
// surfaced as a *disconnectUltimatumError.
func unwrapMCSSendData(payload []byte) (uint16, []byte, error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("rdpwire: empty MCS PDU")
	}
	opcode := payload[0] &^ 0x03
	if opcode == mcsDisconnectUltimatum {
		var reason byte
		if len(payload) >= 2 {
			reason = (payload[0]&0x03)<<1 | payload[1]>>7
		}
		return 0, nil, &disconnectUltimatumError{reason: reason}
	}
	if opcode != mcsSendDataIndication {
		return 0, nil, fmt.Errorf("rdpwire: unexpected MCS opcode 0x%02x", payload[0])
	}
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("rdpwire: truncated MCS send data indication")
	}
	channel := binary.BigEndian.Uint16(payload[3:])
	data := payload[6:]
	// PER length determinant, one or two bytes
	if data[0]&0x80 != 0 {
		data = data[2:]
	} else {
		data = data[1:]
	}
	return channel, data, nil
}
