package rdpwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCSSendDataRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	wrapped := wrapMCSSendData(1007, ioChannelID, payload)

	// flip the opcode to a send-data-indication so the parser accepts it
	wrapped[0] = mcsSendDataIndication

	channel, data, err := unwrapMCSSendData(wrapped)
	require.NoError(t, err)
	assert.Equal(t, ioChannelID, channel)
	assert.Equal(t, payload, data)
}

func TestUnwrapMCSSendDataDisconnect(t *testing.T) {
	// reason 3 (user requested): two low bits of the opcode byte plus
	// the top bit of the next
	_, _, err := unwrapMCSSendData([]byte{mcsDisconnectUltimatum | 0x01, 0x80})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disconnect")

	var ultimatum *disconnectUltimatumError
	require.ErrorAs(t, err, &ultimatum)
	assert.Equal(t, byte(3), ultimatum.reason)
}

func TestParseAttachUserConfirm(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		userID, err := parseAttachUserConfirm([]byte{mcsAttachUserConfirm | 0x02, 0x00, 0x00, 0x06})
		require.NoError(t, err)
		assert.Equal(t, uint16(1007), userID)
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := parseAttachUserConfirm([]byte{mcsAttachUserConfirm | 0x02, 0x01, 0x00, 0x06})
		assert.Error(t, err)
	})

	t.Run("no initiator", func(t *testing.T) {
		_, err := parseAttachUserConfirm([]byte{mcsAttachUserConfirm, 0x00})
		assert.Error(t, err)
	})
}

func TestChannelJoin(t *testing.T) {
	req := buildChannelJoinRequest(1007, ioChannelID)
	assert.Equal(t, []byte{mcsChannelJoinRequest, 0x00, 0x06, 0x03, 0xeb}, req)

	confirm := []byte{mcsChannelJoinConfirm | 0x02, 0x00, 0x00, 0x06, 0x03, 0xeb, 0x03, 0xeb}
	assert.NoError(t, parseChannelJoinConfirm(confirm, ioChannelID))

	confirm[1] = 0x01
	assert.Error(t, parseChannelJoinConfirm(confirm, ioChannelID))
}

func TestMCSConnectInitialShape(t *testing.T) {
	pdu := buildMCSConnectInitial(1024, 768, 32, "testhost", ProtocolHybrid)

	// BER application tag 101
	require.Greater(t, len(pdu), 220)
	assert.Equal(t, []byte{0x7f, 0x65}, pdu[:2])

	// the GCC blob must carry the client-to-server H.221 key
	assert.Contains(t, string(pdu), "Duca")

	// client core data carries the desktop size in little endian
	assert.Contains(t, string(pdu), string([]byte{0x00, 0x04, 0x00, 0x03}))
}

func TestParseMCSConnectResponse(t *testing.T) {
	ok := []byte{0x7f, 0x66, 0x05, 0x0a, 0x01, 0x00, 0x02, 0x01}
	assert.NoError(t, parseMCSConnectResponse(ok))

	rejected := []byte{0x7f, 0x66, 0x05, 0x0a, 0x01, 0x02, 0x02, 0x01}
	assert.Error(t, parseMCSConnectResponse(rejected))

	assert.Error(t, parseMCSConnectResponse([]byte{0x30, 0x00}))
}
