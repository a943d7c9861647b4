package rdpwire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedBlit struct {
	x, y, width, height, bpp int
	data                     []byte
}

type fakeImage struct {
	blits []recordedBlit
}

func (f *fakeImage) Blit(x, y, width, height, bitsPerPixel int, data []byte) error {
	f.blits = append(f.blits, recordedBlit{x, y, width, height, bitsPerPixel, data})
	return nil
}

// buildBitmapUpdate assembles a fast-path PDU payload holding a single
// uncompressed bitmap rectangle.
func buildBitmapUpdate(t *testing.T, left, top, width, height int, bpp int, bitmap []byte) []byte {
	t.Helper()

	update := make([]byte, 4+18+len(bitmap))
	binary.LittleEndian.PutUint16(update[0:], updateTypeBitmap)
	binary.LittleEndian.PutUint16(update[2:], 1)
	binary.LittleEndian.PutUint16(update[4:], uint16(left))
	binary.LittleEndian.PutUint16(update[6:], uint16(top))
	binary.LittleEndian.PutUint16(update[8:], uint16(left+width-1))
	binary.LittleEndian.PutUint16(update[10:], uint16(top+height-1))
	binary.LittleEndian.PutUint16(update[12:], uint16(width))
	binary.LittleEndian.PutUint16(update[14:], uint16(height))
	binary.LittleEndian.PutUint16(update[16:], uint16(bpp))
	binary.LittleEndian.PutUint16(update[20:], uint16(len(bitmap)))
	copy(update[22:], bitmap)

	payload := make([]byte, 3+len(update))
	payload[0] = fpUpdateBitmap
	binary.LittleEndian.PutUint16(payload[1:], uint16(len(update)))
	copy(payload[3:], update)
	return payload
}

func TestProcessFastPathBitmap(t *testing.T) {
	img := &fakeImage{}
	stage := NewActiveStage()

	// 2x2 at 32bpp, bottom-up: wire rows are (c, d) then (a, b)
	bitmap := []byte{
		0xc1, 0xc2, 0xc3, 0xc4, 0xd1, 0xd2, 0xd3, 0xd4,
		0xa1, 0xa2, 0xa3, 0xa4, 0xb1, 0xb2, 0xb3, 0xb4,
	}
	payload := buildBitmapUpdate(t, 10, 20, 2, 2, 32, bitmap)

	outputs, err := stage.Process(img, ActionFastPath, payload)
	require.NoError(t, err)

	require.Len(t, img.blits, 1)
	blit := img.blits[0]
	assert.Equal(t, 10, blit.x)
	assert.Equal(t, 20, blit.y)
	assert.Equal(t, 32, blit.bpp)
	// rows flipped to top-down order
	assert.Equal(t, []byte{
		0xa1, 0xa2, 0xa3, 0xa4, 0xb1, 0xb2, 0xb3, 0xb4,
		0xc1, 0xc2, 0xc3, 0xc4, 0xd1, 0xd2, 0xd3, 0xd4,
	}, blit.data)

	require.Len(t, outputs, 1)
	assert.Equal(t, OutputGraphics, outputs[0].Kind)
	assert.Equal(t, Region{Left: 10, Top: 20, Right: 12, Bottom: 22}, outputs[0].Region)
}

func TestProcessFastPathCompressedRejected(t *testing.T) {
	update := make([]byte, 4+18)
	binary.LittleEndian.PutUint16(update[0:], updateTypeBitmap)
	binary.LittleEndian.PutUint16(update[2:], 1)
	binary.LittleEndian.PutUint16(update[12:], 1)
	binary.LittleEndian.PutUint16(update[14:], 1)
	binary.LittleEndian.PutUint16(update[16:], 16)
	binary.LittleEndian.PutUint16(update[18:], bitmapCompression)

	payload := make([]byte, 3+len(update))
	payload[0] = fpUpdateBitmap
	binary.LittleEndian.PutUint16(payload[1:], uint16(len(update)))
	copy(payload[3:], update)

	_, err := NewActiveStage().Process(&fakeImage{}, ActionFastPath, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compressed")
}

func TestProcessFastPathPointerUpdates(t *testing.T) {
	stage := NewActiveStage()

	pos := []byte{fpUpdatePtrPosition, 0x04, 0x00, 0x40, 0x00, 0x80, 0x00}
	outputs, err := stage.Process(&fakeImage{}, ActionFastPath, pos)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, OutputPointerPosition, outputs[0].Kind)
	assert.Equal(t, uint16(0x40), outputs[0].X)
	assert.Equal(t, uint16(0x80), outputs[0].Y)

	hidden := []byte{fpUpdatePtrNull, 0x00, 0x00}
	outputs, err = stage.Process(&fakeImage{}, ActionFastPath, hidden)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, OutputPointerHidden, outputs[0].Kind)
}

func TestProcessSlowPathDeactivateAll(t *testing.T) {
	body := make([]byte, 6)
	binary.LittleEndian.PutUint16(body[0:], 6)
	binary.LittleEndian.PutUint16(body[2:], 0x0010|pduTypeDeactivateAll)

	payload := append([]byte{0x02, 0xF0, 0x80}, wrapMCSSendData(1007, ioChannelID, body)...)
	payload[3] = mcsSendDataIndication

	outputs, err := NewActiveStage().Process(&fakeImage{}, ActionX224, payload)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, OutputDeactivateAll, outputs[0].Kind)
}

func TestProcessSlowPathDisconnectUltimatum(t *testing.T) {
	// orderly server goodbye, reason 1 (provider initiated)
	payload := []byte{0x02, 0xF0, 0x80, mcsDisconnectUltimatum, 0x80}

	outputs, err := NewActiveStage().Process(&fakeImage{}, ActionX224, payload)
	require.NoError(t, err, "an orderly disconnect is not a protocol error")
	require.Len(t, outputs, 1)
	assert.Equal(t, OutputTerminate, outputs[0].Kind)
	assert.Equal(t, byte(1), outputs[0].Reason)
}

func TestProcessSlowPathErrorInfo(t *testing.T) {
	pduBody := make([]byte, 4)
	binary.LittleEndian.PutUint32(pduBody, 0x00000005)
	data := buildShareDataPDU(0x10001, 1007, pduType2SetErrorInfo, pduBody)

	payload := append([]byte{0x02, 0xF0, 0x80}, wrapMCSSendData(1007, ioChannelID, data)...)
	payload[3] = mcsSendDataIndication

	_, err := NewActiveStage().Process(&fakeImage{}, ActionX224, payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error info")
}
