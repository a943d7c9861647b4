package rdpwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Credentials identify the user on the remote host. Domain may be empty
// for local accounts.
type Credentials struct {
	Username string
	Password string
	Domain   string
}

// Config controls the connection sequence.
type Config struct {
	Credentials

	DesktopWidth  uint16
	DesktopHeight uint16
	// ColorDepth is the requested high color depth in bits per pixel.
	ColorDepth uint16
	// PerfFlags is a combination of the Perf constants sent in the
	// client info extended data.
	PerfFlags  uint32
	ClientName string
}

// ConnectionResult reports what the server granted during the capability
// exchange. The desktop size may differ from the requested one.
type ConnectionResult struct {
	DesktopWidth  uint16
	DesktopHeight uint16
	UserChannel   uint16
	IOChannel     uint16
	ShareID       uint32
}

// Connector drives the RDP connection sequence over a Framed transport.
// The TLS upgrade between RequestConnection and Authenticate is the
// caller's responsibility since it replaces the underlying conn.
type Connector struct {
	cfg      Config
	selected uint32
}

func NewConnector(cfg Config) *Connector {
	if cfg.ClientName == "" {
		cfg.ClientName = "opentermd"
	}
	if cfg.ColorDepth == 0 {
		cfg.ColorDepth = 32
	}
	return &Connector{cfg: cfg}
}

// RequestConnection performs the X.224 exchange on the cleartext
// transport and returns the security protocol the server selected. Plain
// RDP security is rejected, the session requires at least TLS.
func (c *Connector) RequestConnection(f *Framed) (uint32, error) {
	req := buildConnectionRequest(c.cfg.Username, ProtocolHybrid|ProtocolSSL)
	if err := f.Write(req); err != nil {
		return 0, err
	}
	action, payload, err := f.ReadPDU()
	if err != nil {
		return 0, err
	}
	if action != ActionX224 {
		return 0, fmt.Errorf("rdpwire: expected X.224 connection confirm, got fast-path data")
	}
	selected, err := parseConnectionConfirm(payload)
	if err != nil {
		return 0, err
	}
	if selected != ProtocolSSL && selected != ProtocolHybrid {
		return 0, fmt.Errorf("rdpwire: server selected unsupported security protocol 0x%x", selected)
	}
	c.selected = selected
	return selected, nil
}

// Authenticate runs CredSSP on the TLS stream when the server selected
// hybrid security. serverPubKey is the DER SubjectPublicKeyInfo of the
// TLS peer certificate.
func (c *Connector) Authenticate(rw io.ReadWriter, serverPubKey []byte) error {
	if c.selected != ProtocolHybrid {
		return nil
	}
	return runCredSSP(rw, c.cfg.Username, c.cfg.Password, c.cfg.Domain, serverPubKey)
}

// EstablishSession runs the MCS connect sequence, sends credentials and
// capabilities, and completes finalization. On return the connection is
// active and fast-path updates follow.
func (c *Connector) EstablishSession(f *Framed) (*ConnectionResult, error) {
	userChannel, err := c.mcsConnect(f)
	if err != nil {
		return nil, err
	}

	info := buildClientInfo(c.cfg)
	if err := f.WriteX224Data(wrapMCSSendData(userChannel, ioChannelID, info)); err != nil {
		return nil, err
	}

	res, err := c.capabilityExchange(f, userChannel)
	if err != nil {
		return nil, err
	}
	if err := c.finalize(f, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Connector) mcsConnect(f *Framed) (uint16, error) {
	initial := buildMCSConnectInitial(c.cfg.DesktopWidth, c.cfg.DesktopHeight,
		c.cfg.ColorDepth, c.cfg.ClientName, c.selected)
	if err := f.WriteX224Data(initial); err != nil {
		return 0, err
	}
	resp, err := f.readX224Payload()
	if err != nil {
		return 0, err
	}
	if err := parseMCSConnectResponse(resp); err != nil {
		return 0, err
	}

	if err := f.WriteX224Data(buildErectDomain()); err != nil {
		return 0, err
	}
	if err := f.WriteX224Data(buildAttachUserRequest()); err != nil {
		return 0, err
	}
	confirm, err := f.readX224Payload()
	if err != nil {
		return 0, err
	}
	userChannel, err := parseAttachUserConfirm(confirm)
	if err != nil {
		return 0, err
	}

	for _, channel := range []uint16{userChannel, ioChannelID} {
		if err := f.WriteX224Data(buildChannelJoinRequest(userChannel, channel)); err != nil {
			return 0, err
		}
		join, err := f.readX224Payload()
		if err != nil {
			return 0, err
		}
		if err := parseChannelJoinConfirm(join, channel); err != nil {
			return 0, err
		}
	}
	return userChannel, nil
}

// capabilityExchange waits for Demand Active, skipping licensing PDUs,
// and answers with Confirm Active.
func (c *Connector) capabilityExchange(f *Framed, userChannel uint16) (*ConnectionResult, error) {
	for {
		payload, err := f.readX224Payload()
		if err != nil {
			return nil, err
		}
		_, data, err := unwrapMCSSendData(payload)
		if err != nil {
			return nil, err
		}

		// licensing PDUs carry a basic security header instead of a
		// share control header; the version nibble tells them apart
		if len(data) >= 4 && binary.LittleEndian.Uint16(data[2:])&0x00f0 != 0x0010 {
			continue
		}

		pduType, body, err := parseShareControl(data)
		if err != nil {
			return nil, err
		}
		if pduType != pduTypeDemandActive {
			continue
		}

		res, err := parseDemandActive(body)
		if err != nil {
			return nil, err
		}
		res.UserChannel = userChannel
		res.IOChannel = ioChannelID
		if res.DesktopWidth == 0 {
			res.DesktopWidth = c.cfg.DesktopWidth
			res.DesktopHeight = c.cfg.DesktopHeight
		}

		confirm := buildConfirmActive(res.ShareID, userChannel, res.DesktopWidth, res.DesktopHeight, c.cfg.ColorDepth)
		if err := f.WriteX224Data(wrapMCSSendData(userChannel, ioChannelID, confirm)); err != nil {
			return nil, err
		}
		return res, nil
	}
}

// finalize sends the client finalization PDUs and drains the server's
// responses up to the Font Map PDU.
func (c *Connector) finalize(f *Framed, res *ConnectionResult) error {
	sync := make([]byte, 4)
	binary.LittleEndian.PutUint16(sync, 1) // SYNCMSGTYPE_SYNC
	binary.LittleEndian.PutUint16(sync[2:], res.UserChannel)

	cooperate := make([]byte, 8)
	binary.LittleEndian.PutUint16(cooperate, ctrlActionCooperate)

	requestControl := make([]byte, 8)
	binary.LittleEndian.PutUint16(requestControl, ctrlActionRequestControl)

	fontList := make([]byte, 8)
	binary.LittleEndian.PutUint16(fontList[4:], 0x0003) // FONTLIST_FIRST | FONTLIST_LAST
	binary.LittleEndian.PutUint16(fontList[6:], 0x0032)

	for _, pdu := range []struct {
		pduType2 byte
		body     []byte
	}{
		{pduType2Synchronize, sync},
		{pduType2Control, cooperate},
		{pduType2Control, requestControl},
		{pduType2FontList, fontList},
	} {
		data := buildShareDataPDU(res.ShareID, res.UserChannel, pdu.pduType2, pdu.body)
		if err := f.WriteX224Data(wrapMCSSendData(res.UserChannel, ioChannelID, data)); err != nil {
			return err
		}
	}

	// server answers with synchronize, control cooperate, control
	// granted and font map
	for {
		payload, err := f.readX224Payload()
		if err != nil {
			return err
		}
		_, data, err := unwrapMCSSendData(payload)
		if err != nil {
			return err
		}
		pduType, body, err := parseShareControl(data)
		if err != nil {
			return err
		}
		if pduType != pduTypeData {
			continue
		}
		pduType2, _, err := parseShareData(body)
		if err != nil {
			return err
		}
		if pduType2 == pduType2FontMap {
			return nil
		}
	}
}

// readX224Payload reads PDUs until an X.224 data TPDU arrives, returning
// its payload with the X.224 header stripped. Fast-path PDUs received
// during the connection sequence are dropped.
func (f *Framed) readX224Payload() ([]byte, error) {
	for {
		action, payload, err := f.ReadPDU()
		if err != nil {
			return nil, err
		}
		if action != ActionX224 {
			continue
		}
		return stripX224Data(payload), nil
	}
}

// buildClientInfo builds the Client Info PDU, security header included.
func buildClientInfo(cfg Config) []byte {
	var buf bytes.Buffer

	binary.Write(&buf, binary.LittleEndian, uint32(secInfoPkt))

	domain := utf16LE(cfg.Domain)
	user := utf16LE(cfg.Username)
	password := utf16LE(cfg.Password)

	flags := infoMouse | infoUnicode | infoDisableCtrlAltDel | infoMaximizeShell |
		infoEnableWindowsKey | infoAutologon | infoFastpathInput | infoFastpathOutput

	binary.Write(&buf, binary.LittleEndian, uint32(0)) // code page
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, uint16(len(domain)))
	binary.Write(&buf, binary.LittleEndian, uint16(len(user)))
	binary.Write(&buf, binary.LittleEndian, uint16(len(password)))
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // alternate shell
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // working dir
	for _, s := range [][]byte{domain, user, password, nil, nil} {
		buf.Write(s)
		buf.Write([]byte{0, 0}) // mandatory terminator outside the length
	}

	// TS_EXTENDED_INFO_PACKET carries the performance flags
	binary.Write(&buf, binary.LittleEndian, uint16(0x0002)) // AF_INET
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	buf.Write([]byte{0, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	buf.Write([]byte{0, 0})
	buf.Write(make([]byte, 172))                       // client time zone
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // client session id
	binary.Write(&buf, binary.LittleEndian, cfg.PerfFlags)
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // no auto-reconnect cookie
	return buf.Bytes()
}

// parseShareControl splits a share control header, returning the PDU
// type and the bytes after the header.
func parseShareControl(data []byte) (byte, []byte, error) {
	if len(data) < 6 {
		return 0, nil, fmt.Errorf("rdpwire: truncated share control header")
	}
	pduType := byte(binary.LittleEndian.Uint16(data[2:]) & 0x0f)
	return pduType, data[6:], nil
}

// parseShareData splits a share data header following a share control
// header, returning pduType2 and the PDU body.
func parseShareData(body []byte) (byte, []byte, error) {
	if len(body) < 12 {
		return 0, nil, fmt.Errorf("rdpwire: truncated share data header")
	}
	return body[8], body[12:], nil
}

func buildShareDataPDU(shareID uint32, userChannel uint16, pduType2 byte, body []byte) []byte {
	total := 18 + len(body)
	buf := make([]byte, 18, total)
	binary.LittleEndian.PutUint16(buf[0:], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:], 0x0010|pduTypeData) // version 1
	binary.LittleEndian.PutUint16(buf[4:], userChannel)
	binary.LittleEndian.PutUint32(buf[6:], shareID)
	buf[11] = 0x01 // stream low
	binary.LittleEndian.PutUint16(buf[12:], uint16(4+len(body)))
	buf[14] = pduType2
	return append(buf, body...)
}

// parseDemandActive extracts the share ID and the server's desktop
// dimensions from the bitmap capability set.
func parseDemandActive(body []byte) (*ConnectionResult, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("rdpwire: truncated demand active PDU")
	}
	res := &ConnectionResult{ShareID: binary.LittleEndian.Uint32(body)}

	srcLen := int(binary.LittleEndian.Uint16(body[4:]))
	if len(body) < 8+srcLen+4 {
		return res, nil
	}
	caps := body[8+srcLen:]
	numCaps := int(binary.LittleEndian.Uint16(caps))
	caps = caps[4:]
	for i := 0; i < numCaps && len(caps) >= 4; i++ {
		capType := binary.LittleEndian.Uint16(caps)
		capLen := int(binary.LittleEndian.Uint16(caps[2:]))
		if capLen < 4 || capLen > len(caps) {
			break
		}
		if capType == capsBitmap && capLen >= 16 {
			res.DesktopWidth = binary.LittleEndian.Uint16(caps[10:])
			res.DesktopHeight = binary.LittleEndian.Uint16(caps[12:])
		}
		caps = caps[capLen:]
	}
	return res, nil
}

// Capability set types sent in Confirm Active.
const (
	capsGeneral = 0x0001
	capsBitmap  = 0x0002
	capsOrder   = 0x0003
	capsPointer = 0x0008
	capsInput   = 0x000D
)

func buildConfirmActive(shareID uint32, userChannel, width, height, colorDepth uint16) []byte {
	caps := buildGeneralCaps()
	caps = append(caps, buildBitmapCaps(width, height, colorDepth)...)
	caps = append(caps, buildOrderCaps()...)
	caps = append(caps, buildPointerCaps()...)
	caps = append(caps, buildInputCaps()...)

	source := []byte("MSTSC")
	header := 6 + 4 + 2 + 2 + 2 + len(source) + 4
	total := header + len(caps)
	buf := make([]byte, header, total)
	binary.LittleEndian.PutUint16(buf[0:], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:], 0x0010|pduTypeConfirmActive)
	binary.LittleEndian.PutUint16(buf[4:], userChannel)
	binary.LittleEndian.PutUint32(buf[6:], shareID)
	binary.LittleEndian.PutUint16(buf[10:], 0x03ea) // originator
	binary.LittleEndian.PutUint16(buf[12:], uint16(len(source)))
	binary.LittleEndian.PutUint16(buf[14:], uint16(len(caps)+4))
	copy(buf[16:], source)
	binary.LittleEndian.PutUint16(buf[16+len(source):], 5) // capability count
	return append(buf, caps...)
}

func capsHeader(capType uint16, length int) []byte {
	buf := make([]byte, length)
	binary.LittleEndian.PutUint16(buf[0:], capType)
	binary.LittleEndian.PutUint16(buf[2:], uint16(length))
	return buf
}

func buildGeneralCaps() []byte {
	buf := capsHeader(capsGeneral, 24)
	binary.LittleEndian.PutUint16(buf[4:], 1)      // os major: windows
	binary.LittleEndian.PutUint16(buf[6:], 3)      // os minor: nt
	binary.LittleEndian.PutUint16(buf[8:], 0x0200) // protocol version
	// fast-path output, no bitmap compression header, long credentials
	binary.LittleEndian.PutUint16(buf[14:], 0x0001|noBitmapCompressionHdr|0x0004)
	return buf
}

func buildBitmapCaps(width, height, colorDepth uint16) []byte {
	buf := capsHeader(capsBitmap, 28)
	binary.LittleEndian.PutUint16(buf[4:], colorDepth)
	binary.LittleEndian.PutUint16(buf[6:], 1)
	binary.LittleEndian.PutUint16(buf[8:], 1)
	binary.LittleEndian.PutUint16(buf[10:], 1)
	binary.LittleEndian.PutUint16(buf[12:], width)
	binary.LittleEndian.PutUint16(buf[14:], height)
	binary.LittleEndian.PutUint16(buf[18:], 1) // desktop resize
	binary.LittleEndian.PutUint16(buf[20:], 1) // compression
	binary.LittleEndian.PutUint16(buf[24:], 1) // multiple rectangles
	return buf
}

func buildOrderCaps() []byte {
	buf := capsHeader(capsOrder, 88)
	binary.LittleEndian.PutUint16(buf[24:], 1)  // desktop save X granularity
	binary.LittleEndian.PutUint16(buf[26:], 20) // desktop save Y granularity
	binary.LittleEndian.PutUint16(buf[30:], 1)  // maximum order level
	// negotiate order support, zero bounds deltas; orderSupport stays
	// zero so the server falls back to bitmap updates
	binary.LittleEndian.PutUint16(buf[34:], 0x0002|0x0008)
	return buf
}

func buildPointerCaps() []byte {
	buf := capsHeader(capsPointer, 10)
	binary.LittleEndian.PutUint16(buf[4:], 1)  // color pointers
	binary.LittleEndian.PutUint16(buf[6:], 20) // color pointer cache
	binary.LittleEndian.PutUint16(buf[8:], 20) // pointer cache
	return buf
}

func buildInputCaps() []byte {
	buf := capsHeader(capsInput, 88)
	// scancodes, mousex, fast-path input both revisions
	binary.LittleEndian.PutUint16(buf[4:], 0x0001|0x0004|0x0008|0x0020)
	binary.LittleEndian.PutUint32(buf[8:], 0x409) // keyboard layout
	binary.LittleEndian.PutUint32(buf[12:], 4)    // keyboard type
	binary.LittleEndian.PutUint32(buf[20:], 12)   // function keys
	return buf
}
