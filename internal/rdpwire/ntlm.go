package rdpwire

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

// NTLMSSP negotiate flags used by this client.
const (
	ntlmNegotiateUnicode    = 0x00000001
	ntlmRequestTarget       = 0x00000004
	ntlmNegotiateSign       = 0x00000010
	ntlmNegotiateSeal       = 0x00000020
	ntlmNegotiateNTLM       = 0x00000200
	ntlmNegotiateAlwaysSign = 0x00008000
	ntlmNegotiateExtended   = 0x00080000
	ntlmNegotiateTargetInfo = 0x00800000
	ntlmNegotiate128        = 0x20000000
	ntlmNegotiateKeyExch    = 0x40000000
	ntlmNegotiate56         = 0x80000000
)

var ntlmSignature = []byte("NTLMSSP\x00")

// ntlmContext carries the state of one NTLMv2 exchange and, once the
// authenticate message has been produced, the derived sealing and signing
// handles used by CredSSP.
type ntlmContext struct {
	user     string
	password string
	domain   string

	sendSeal *rc4.Cipher
	recvSeal *rc4.Cipher
	sendSign []byte
	recvSign []byte
	sendSeq  uint32
	recvSeq  uint32
}

func newNTLMContext(user, password, domain string) *ntlmContext {
	return &ntlmContext{user: user, password: password, domain: domain}
}

// negotiate builds the NTLM NEGOTIATE_MESSAGE.
func (c *ntlmContext) negotiate() []byte {
	msg := make([]byte, 40)
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 1)
	binary.LittleEndian.PutUint32(msg[12:], c.flags())
	// domain and workstation fields are empty; their offsets point past
	// the fixed part
	binary.LittleEndian.PutUint32(msg[20:], 40)
	binary.LittleEndian.PutUint32(msg[28:], 40)
	return msg
}

func (c *ntlmContext) flags() uint32 {
	return ntlmNegotiateUnicode | ntlmRequestTarget | ntlmNegotiateSign |
		ntlmNegotiateSeal | ntlmNegotiateNTLM | ntlmNegotiateAlwaysSign |
		ntlmNegotiateExtended | ntlmNegotiateTargetInfo | ntlmNegotiate128 |
		ntlmNegotiateKeyExch | ntlmNegotiate56
}

// authenticate consumes the server CHALLENGE_MESSAGE and produces the
// AUTHENTICATE_MESSAGE, deriving the session keys as a side effect.
func (c *ntlmContext) authenticate(challenge []byte) ([]byte, error) {
	serverChallenge, targetInfo, err := parseChallenge(challenge)
	if err != nil {
		return nil, err
	}

	clientChallenge := make([]byte, 8)
	if _, err := rand.Read(clientChallenge); err != nil {
		return nil, err
	}

	ntlmV2Hash := ntowfV2(c.user, c.password, c.domain)
	ntResponse := ntlmV2Response(ntlmV2Hash, serverChallenge, clientChallenge, targetInfo)

	sessionBaseKey := hmacMD5(ntlmV2Hash, ntResponse[:16])

	exportedSessionKey := make([]byte, 16)
	if _, err := rand.Read(exportedSessionKey); err != nil {
		return nil, err
	}
	encryptedSessionKey := rc4K(sessionBaseKey, exportedSessionKey)

	if err := c.deriveKeys(exportedSessionKey); err != nil {
		return nil, err
	}

	domain := utf16LE(c.domain)
	user := utf16LE(c.user)
	lmResponse := make([]byte, 24)

	// field order in the payload: domain, user, workstation, LM response,
	// NT response, session key
	fixed := 64
	msg := make([]byte, fixed)
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 3)

	offset := fixed
	putField := func(at int, data []byte) {
		binary.LittleEndian.PutUint16(msg[at:], uint16(len(data)))
		binary.LittleEndian.PutUint16(msg[at+2:], uint16(len(data)))
		binary.LittleEndian.PutUint32(msg[at+4:], uint32(offset))
		offset += len(data)
	}
	putField(12, lmResponse)
	putField(20, ntResponse)
	putField(28, domain)
	putField(36, user)
	putField(44, nil) // workstation
	putField(52, encryptedSessionKey)
	binary.LittleEndian.PutUint32(msg[60:], c.flags())

	msg = append(msg, lmResponse...)
	msg = append(msg, ntResponse...)
	msg = append(msg, domain...)
	msg = append(msg, user...)
	msg = append(msg, encryptedSessionKey...)
	return msg, nil
}

func parseChallenge(msg []byte) (serverChallenge, targetInfo []byte, err error) {
	if len(msg) < 48 || string(msg[:8]) != string(ntlmSignature) {
		return nil, nil, fmt.Errorf("rdpwire: malformed NTLM challenge")
	}
	if typ := binary.LittleEndian.Uint32(msg[8:]); typ != 2 {
		return nil, nil, fmt.Errorf("rdpwire: expected NTLM challenge, got message type %d", typ)
	}

	serverChallenge = msg[24:32]

	infoLen := binary.LittleEndian.Uint16(msg[40:])
	infoOffset := binary.LittleEndian.Uint32(msg[44:])
	if int(infoOffset)+int(infoLen) > len(msg) {
		return nil, nil, fmt.Errorf("rdpwire: NTLM challenge target info out of bounds")
	}
	targetInfo = msg[infoOffset : infoOffset+uint32(infoLen)]
	return serverChallenge, targetInfo, nil
}

// ntowfV2 per MS-NLMP 3.3.2.
func ntowfV2(user, password, domain string) []byte {
	h := md4.New()
	h.Write(utf16LE(password))
	ntHash := h.Sum(nil)
	return hmacMD5(ntHash, utf16LE(strings.ToUpper(user)+domain))
}

func ntlmV2Response(ntlmV2Hash, serverChallenge, clientChallenge, targetInfo []byte) []byte {
	// blob: resp version, hi version, 6 zero bytes, timestamp, client
	// challenge, 4 zero bytes, target info, 4 zero bytes
	blob := make([]byte, 0, 28+len(targetInfo)+4)
	blob = append(blob, 0x01, 0x01, 0, 0, 0, 0, 0, 0)

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], filetime(time.Now()))
	blob = append(blob, ts[:]...)
	blob = append(blob, clientChallenge...)
	blob = append(blob, 0, 0, 0, 0)
	blob = append(blob, targetInfo...)
	blob = append(blob, 0, 0, 0, 0)

	proof := hmacMD5(ntlmV2Hash, append(append([]byte{}, serverChallenge...), blob...))
	return append(proof, blob...)
}

// filetime converts t to a Windows FILETIME value.
func filetime(t time.Time) uint64 {
	const epochDelta = 116444736000000000 // 1601-01-01 to 1970-01-01 in 100ns units
	return uint64(t.UnixNano()/100) + epochDelta
}

func (c *ntlmContext) deriveKeys(exportedSessionKey []byte) error {
	clientSeal := sealKey(exportedSessionKey, "session key to client-to-server sealing key magic constant\x00")
	serverSeal := sealKey(exportedSessionKey, "session key to server-to-client sealing key magic constant\x00")
	c.sendSign = sealKey(exportedSessionKey, "session key to client-to-server signing key magic constant\x00")
	c.recvSign = sealKey(exportedSessionKey, "session key to server-to-client signing key magic constant\x00")

	var err error
	if c.sendSeal, err = rc4.NewCipher(clientSeal); err != nil {
		return err
	}
	c.recvSeal, err = rc4.NewCipher(serverSeal)
	return err
}

func sealKey(sessionKey []byte, magic string) []byte {
	h := md5.New()
	h.Write(sessionKey)
	h.Write([]byte(magic))
	return h.Sum(nil)
}

// seal encrypts msg and prepends the NTLM message signature, advancing the
// outbound sequence number.
func (c *ntlmContext) seal(msg []byte) []byte {
	sealed := make([]byte, len(msg))
	c.sendSeal.XORKeyStream(sealed, msg)

	var seq [4]byte
	binary.LittleEndian.PutUint32(seq[:], c.sendSeq)
	mac := hmacMD5(c.sendSign, append(seq[:], msg...))[:8]
	c.sendSeal.XORKeyStream(mac, mac)

	out := make([]byte, 0, 16+len(sealed))
	out = append(out, 0x01, 0x00, 0x00, 0x00) // signature version
	out = append(out, mac...)
	out = append(out, seq[:]...)
	c.sendSeq++
	return append(out, sealed...)
}

// unseal decrypts a message produced by the peer's sealing handle. The
// signature is not re-verified beyond its length; TLS already
// authenticates the stream and the decrypted value is checked by the
// caller.
func (c *ntlmContext) unseal(msg []byte) ([]byte, error) {
	if len(msg) < 16 {
		return nil, fmt.Errorf("rdpwire: sealed NTLM message too short (%d bytes)", len(msg))
	}
	var skip [8]byte
	c.recvSeal.XORKeyStream(skip[:], msg[4:12])
	out := make([]byte, len(msg)-16)
	c.recvSeal.XORKeyStream(out, msg[16:])
	c.recvSeq++
	return out, nil
}

func hmacMD5(key, data []byte) []byte {
	h := hmac.New(md5.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func rc4K(key, data []byte) []byte {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out
}

func utf16LE(s string) []byte {
	points := utf16.Encode([]rune(s))
	out := make([]byte, len(points)*2)
	for i, p := range points {
		binary.LittleEndian.PutUint16(out[i*2:], p)
	}
	return out
}
