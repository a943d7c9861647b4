package rdpwire

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeFramed returns a Framed reading from one end of a pipe and a
// writer feeding the other end.
func pipeFramed(t *testing.T) (*Framed, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewFramed(client), server
}

func TestReadPDUTPKT(t *testing.T) {
	f, w := pipeFramed(t)

	go w.Write([]byte{0x03, 0x00, 0x00, 0x0b, 0x02, 0xF0, 0x80, 0xaa, 0xbb, 0xcc, 0xdd})

	action, payload, err := f.ReadPDU()
	require.NoError(t, err)
	assert.Equal(t, ActionX224, action)
	assert.Equal(t, []byte{0x02, 0xF0, 0x80, 0xaa, 0xbb, 0xcc, 0xdd}, payload)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, stripX224Data(payload))
}

func TestReadPDUFastPathShortLength(t *testing.T) {
	f, w := pipeFramed(t)

	go w.Write([]byte{0x00, 0x05, 0x01, 0x02, 0x03})

	action, payload, err := f.ReadPDU()
	require.NoError(t, err)
	assert.Equal(t, ActionFastPath, action)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, payload)
}

func TestReadPDUFastPathLongLength(t *testing.T) {
	f, w := pipeFramed(t)

	body := make([]byte, 200)
	for i := range body {
		body[i] = byte(i)
	}
	frame := append([]byte{0x00, 0x80, byte(len(body) + 3)}, body...)
	go w.Write(frame)

	action, payload, err := f.ReadPDU()
	require.NoError(t, err)
	assert.Equal(t, ActionFastPath, action)
	assert.Equal(t, body, payload)
}

func TestReadPDUFastPathEncryptedRejected(t *testing.T) {
	f, w := pipeFramed(t)

	go w.Write([]byte{0x80, 0x04, 0x01, 0x02})

	_, _, err := f.ReadPDU()
	assert.ErrorIs(t, err, errFastpathEncrypted)
}

func TestReadPDUTimeout(t *testing.T) {
	f, _ := pipeFramed(t)

	f.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	_, _, err := f.ReadPDU()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsClosed(err))
}

func TestWriteX224Data(t *testing.T) {
	f, w := pipeFramed(t)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := w.Read(buf)
		done <- buf[:n]
	}()

	require.NoError(t, f.WriteX224Data([]byte{0xde, 0xad}))
	got := <-done
	assert.Equal(t, []byte{0x03, 0x00, 0x00, 0x09, 0x02, 0xF0, 0x80, 0xde, 0xad}, got)
}
