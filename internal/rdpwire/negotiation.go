package rdpwire

import (
	"encoding/binary"
	"fmt"
)

// buildConnectionRequest builds the X.224 Connection Request TPDU carrying
// an RDP_NEG_REQ asking for TLS with network-level authentication. The
// routing cookie identifies the user the way mstsc does.
func buildConnectionRequest(username string, requested uint32) []byte {
	cookie := fmt.Sprintf("Cookie: mstshash=%s\r\n", truncateCookie(username))

	// CR TPDU body: dst-ref, src-ref, class option
	body := make([]byte, 0, 6+len(cookie)+8)
	body = append(body, 0xE0, 0x00, 0x00, 0x00, 0x00, 0x00)
	body = append(body, cookie...)

	// RDP_NEG_REQ
	neg := make([]byte, 8)
	neg[0] = typeNegReq
	binary.LittleEndian.PutUint16(neg[2:], 8)
	binary.LittleEndian.PutUint32(neg[4:], requested)
	body = append(body, neg...)

	buf := make([]byte, 0, 5+len(body))
	buf = appendTPKTHeader(buf, 5+len(body))
	buf = append(buf, byte(len(body)+1)) // length indicator
	return append(buf, body...)
}

func truncateCookie(username string) string {
	// the routing cookie field is limited to nine characters
	if len(username) > 9 {
		return username[:9]
	}
	return username
}

// parseConnectionConfirm extracts the server-selected protocol from an
// X.224 Connection Confirm TPDU.
func parseConnectionConfirm(payload []byte) (uint32, error) {
	if len(payload) < 7 {
		return 0, fmt.Errorf("rdpwire: connection confirm too short (%d bytes)", len(payload))
	}
	if payload[1] != 0xD0 {
		return 0, fmt.Errorf("rdpwire: expected connection confirm, got TPDU code 0x%02x", payload[1])
	}

	// the negotiation response follows the fixed seven-byte CC header
	neg := payload[7:]
	if len(neg) < 8 {
		// pre-5.1 servers answer without a negotiation structure; that
		// means plain RDP security, which this client does not speak
		return 0, fmt.Errorf("rdpwire: server did not negotiate an enhanced security protocol")
	}

	switch neg[0] {
	case typeNegRsp:
		return binary.LittleEndian.Uint32(neg[4:8]), nil
	case typeNegFailure:
		code := binary.LittleEndian.Uint32(neg[4:8])
		return 0, fmt.Errorf("rdpwire: negotiation failed: %s", negFailureString(code))
	default:
		return 0, fmt.Errorf("rdpwire: unexpected negotiation structure type 0x%02x", neg[0])
	}
}

func negFailureString(code uint32) string {
	switch code {
	case negFailureSSLRequired:
		return "server requires TLS"
	case negFailureSSLNotAllowed:
		return "server does not allow TLS"
	case negFailureSSLCertNotOnServer:
		return "server has no TLS certificate"
	case negFailureInconsistentFlags:
		return "inconsistent negotiation flags"
	case negFailureHybridRequired:
		return "server requires network-level authentication"
	case negFailureSSLWithUserAuthReqd:
		return "server requires TLS with user authentication"
	default:
		return fmt.Sprintf("failure code 0x%08x", code)
	}
}
