// Package rdpwire implements the RDP wire protocol: TPKT and fast-path
// framing, the X.224 negotiation phase, the CredSSP/NLA exchange and the
// post-TLS connection sequence, plus fast-path input encoding and bitmap
// update parsing. The session engine in internal/rdp drives this package
// through the Connector and Stage types.
package rdpwire

// Security protocol flags negotiated during the X.224 phase (RDP_NEG_REQ).
const (
	ProtocolRDP      uint32 = 0x00000000
	ProtocolSSL      uint32 = 0x00000001
	ProtocolHybrid   uint32 = 0x00000002
	ProtocolHybridEx uint32 = 0x00000008
)

// X.224 negotiation structure types.
const (
	typeNegReq     = 0x01
	typeNegRsp     = 0x02
	typeNegFailure = 0x03
)

// Negotiation failure codes.
const (
	negFailureSSLRequired         = 0x00000001
	negFailureSSLNotAllowed       = 0x00000002
	negFailureSSLCertNotOnServer  = 0x00000003
	negFailureInconsistentFlags   = 0x00000004
	negFailureHybridRequired      = 0x00000005
	negFailureSSLWithUserAuthReqd = 0x00000006
)

// Security header flags.
const (
	secExchangePkt uint16 = 0x0001
	secInfoPkt     uint16 = 0x0040
	secLicensePkt  uint16 = 0x0080
)

// Static virtual channel IDs. The I/O channel is fixed by the protocol.
const (
	ioChannelID   uint16 = 1003
	baseChannelID uint16 = 1001
)

// Share control PDU types.
const (
	pduTypeDemandActive  = 0x1
	pduTypeConfirmActive = 0x3
	pduTypeDeactivateAll = 0x6
	pduTypeData          = 0x7
)

// Share data PDU types (pduType2).
const (
	pduType2Update       = 0x02
	pduType2Control      = 0x14
	pduType2Pointer      = 0x1B
	pduType2Input        = 0x1C
	pduType2Synchronize  = 0x1F
	pduType2FontList     = 0x27
	pduType2FontMap      = 0x28
	pduType2SetErrorInfo = 0x2F
	pduType2ShutdownReq  = 0x24
	pduType2ShutdownDeny = 0x25
)

// Control PDU actions.
const (
	ctrlActionRequestControl = 0x0001
	ctrlActionGrantedControl = 0x0002
	ctrlActionDetach         = 0x0003
	ctrlActionCooperate      = 0x0004
)

// Slow-path update types carried in an Update Data PDU.
const (
	updateTypeOrders  = 0x0000
	updateTypeBitmap  = 0x0001
	updateTypePalette = 0x0002
	updateTypeSync    = 0x0003
)

// Fast-path update codes (updateHeader low nibble).
const (
	fpUpdateOrders      = 0x0
	fpUpdateBitmap      = 0x1
	fpUpdatePalette     = 0x2
	fpUpdateSynchronize = 0x3
	fpUpdateSurfCmds    = 0x4
	fpUpdatePtrNull     = 0x5
	fpUpdatePtrDefault  = 0x6
	fpUpdatePtrPosition = 0x8
	fpUpdateColor       = 0x9
	fpUpdateCached      = 0xA
	fpUpdatePointer     = 0xB
)

// Fast-path update fragmentation values.
const (
	fpFragSingle = 0x0
	fpFragLast   = 0x1
	fpFragFirst  = 0x2
	fpFragNext   = 0x3
)

// Fast-path update compression flag (updateHeader bits 6-7).
const fpCompressionUsed = 0x2

// Bitmap data flags.
const (
	bitmapCompression      = 0x0001
	noBitmapCompressionHdr = 0x0400
)

// Fast-path input event codes (eventHeader bits 5-7).
const (
	fpInputScancode = 0x0
	fpInputMouse    = 0x1
	fpInputMouseX   = 0x2
	fpInputSync     = 0x3
	fpInputUnicode  = 0x4
)

// Fast-path keyboard event flags.
const (
	KbdFlagRelease  = 0x01
	KbdFlagExtended = 0x02
)

// Pointer event flags for mouse PDUs.
const (
	PtrFlagMove          = 0x0800
	PtrFlagDown          = 0x8000
	PtrFlagButton1       = 0x1000 // left
	PtrFlagButton2       = 0x2000 // right
	PtrFlagButton3       = 0x4000 // middle / wheel
	PtrFlagWheel         = 0x0200
	PtrFlagWheelNegative = 0x0100
	ptrWheelRotationMask = 0x01FF
)

// Performance flags sent in the Client Info PDU. Quality presets in
// internal/rdp map onto combinations of these.
const (
	PerfDisableWallpaper         uint32 = 0x00000001
	PerfDisableFullWindowDrag    uint32 = 0x00000002
	PerfDisableMenuAnimations    uint32 = 0x00000004
	PerfDisableTheming           uint32 = 0x00000008
	PerfDisableCursorShadow      uint32 = 0x00000020
	PerfDisableCursorSettings    uint32 = 0x00000040
	PerfEnableFontSmoothing      uint32 = 0x00000080
	PerfEnableDesktopComposition uint32 = 0x00000100
)

// Client Info PDU option flags.
const (
	infoMouse               uint32 = 0x00000001
	infoDisableCtrlAltDel   uint32 = 0x00000002
	infoAutologon           uint32 = 0x00000008
	infoUnicode             uint32 = 0x00000010
	infoMaximizeShell       uint32 = 0x00000020
	infoEnableWindowsKey    uint32 = 0x00000100
	infoForceEncryptedCSPDU uint32 = 0x00004000
	infoFastpathInput       uint32 = 0x00008000
	infoFastpathOutput      uint32 = 0x00400000
)
