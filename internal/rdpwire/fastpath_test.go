package rdpwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFastPathInput(t *testing.T) {
	tests := []struct {
		name   string
		events []FastPathInput
		want   []byte
	}{
		{
			name:   "single mouse move",
			events: []FastPathInput{MouseEvent{PointerFlags: PtrFlagMove, X: 100, Y: 200}},
			want: []byte{
				0x04,       // one event
				0x09,       // total length
				0x20,       // mouse event header
				0x00, 0x08, // PTR_FLAGS_MOVE
				0x64, 0x00, // x
				0xc8, 0x00, // y
			},
		},
		{
			name:   "left button press",
			events: []FastPathInput{MouseEvent{PointerFlags: PtrFlagDown | PtrFlagButton1, X: 10, Y: 20}},
			want: []byte{
				0x04, 0x09, 0x20,
				0x00, 0x90, // down | button1
				0x0a, 0x00,
				0x14, 0x00,
			},
		},
		{
			name:   "key press",
			events: []FastPathInput{KeyEvent{Scancode: 0x1e}},
			want:   []byte{0x04, 0x04, 0x00, 0x1e},
		},
		{
			name:   "key release",
			events: []FastPathInput{KeyEvent{Flags: KbdFlagRelease, Scancode: 0x1e}},
			want:   []byte{0x04, 0x04, 0x01, 0x1e},
		},
		{
			name: "mixed batch",
			events: []FastPathInput{
				MouseEvent{PointerFlags: PtrFlagMove, X: 1, Y: 2},
				KeyEvent{Flags: KbdFlagExtended, Scancode: 0x48},
			},
			want: []byte{
				0x08, 0x0b,
				0x20, 0x00, 0x08, 0x01, 0x00, 0x02, 0x00,
				0x02, 0x48,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeFastPathInput(tt.events)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeFastPathInputLimits(t *testing.T) {
	_, err := EncodeFastPathInput(nil)
	assert.Error(t, err)

	events := make([]FastPathInput, 16)
	for i := range events {
		events[i] = KeyEvent{Scancode: 0x1c}
	}
	_, err = EncodeFastPathInput(events)
	assert.Error(t, err)
}

func TestEncodeFastPathInputLengthCoversPDU(t *testing.T) {
	events := make([]FastPathInput, 15)
	for i := range events {
		events[i] = MouseEvent{PointerFlags: PtrFlagMove, X: uint16(i), Y: uint16(i)}
	}
	pdu, err := EncodeFastPathInput(events)
	require.NoError(t, err)
	assert.Equal(t, byte(15<<2), pdu[0])
	assert.Equal(t, len(pdu), int(pdu[1]))
}
