package rdpwire

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vector from MS-NLMP 4.2.4.1.1.
func TestNTOWFv2(t *testing.T) {
	got := ntowfV2("User", "Password", "Domain")
	assert.Equal(t, "0c868a403bfd7a93a3001ef22ef02e3f", hex.EncodeToString(got))
}

func TestUTF16LE(t *testing.T) {
	assert.Equal(t, []byte{0x41, 0x00, 0x42, 0x00}, utf16LE("AB"))
	assert.Empty(t, utf16LE(""))
}

func TestFiletimeEpoch(t *testing.T) {
	// 1601-01-01 is zero in FILETIME
	assert.Equal(t, uint64(116444736000000000), filetime(time.Unix(0, 0)))
}

func TestNegotiateMessage(t *testing.T) {
	msg := newNTLMContext("user", "pass", "").negotiate()
	require.Len(t, msg, 40)
	assert.Equal(t, ntlmSignature, msg[:8])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(msg[8:]))
	flags := binary.LittleEndian.Uint32(msg[12:])
	assert.NotZero(t, flags&ntlmNegotiateUnicode)
	assert.NotZero(t, flags&ntlmNegotiateExtended)
	assert.NotZero(t, flags&ntlmNegotiateKeyExch)
}

func buildTestChallenge(t *testing.T, serverChallenge, targetInfo []byte) []byte {
	t.Helper()
	require.Len(t, serverChallenge, 8)
	msg := make([]byte, 48+len(targetInfo))
	copy(msg, ntlmSignature)
	binary.LittleEndian.PutUint32(msg[8:], 2)
	copy(msg[24:], serverChallenge)
	binary.LittleEndian.PutUint16(msg[40:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[42:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[44:], 48)
	copy(msg[48:], targetInfo)
	return msg
}

func TestParseChallenge(t *testing.T) {
	serverChallenge := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	targetInfo := []byte{0x02, 0x00, 0x04, 0x00, 'D', 0, 'M', 0}

	challenge, info, err := parseChallenge(buildTestChallenge(t, serverChallenge, targetInfo))
	require.NoError(t, err)
	assert.Equal(t, serverChallenge, challenge)
	assert.Equal(t, targetInfo, info)

	_, _, err = parseChallenge([]byte("NTLMSSP\x00 short"))
	assert.Error(t, err)
}

func TestAuthenticateMessageShape(t *testing.T) {
	ctx := newNTLMContext("User", "Password", "Domain")
	msg, err := ctx.authenticate(buildTestChallenge(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{0x02, 0x00, 0x00, 0x00}))
	require.NoError(t, err)

	assert.Equal(t, ntlmSignature, msg[:8])
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(msg[8:]))

	// NT response field must point inside the message and start with the
	// 16 byte NTLMv2 proof
	ntLen := binary.LittleEndian.Uint16(msg[20:])
	ntOffset := binary.LittleEndian.Uint32(msg[24:])
	require.LessOrEqual(t, int(ntOffset)+int(ntLen), len(msg))
	assert.Greater(t, int(ntLen), 16)

	// sealing handles must be live after authentication
	require.NotNil(t, ctx.sendSeal)
	require.NotNil(t, ctx.recvSeal)

	sealed := ctx.seal([]byte("public key bytes"))
	assert.Len(t, sealed, 16+len("public key bytes"))
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, sealed[:4])
	assert.NotEqual(t, []byte("public key bytes"), sealed[16:])
}
