package rdp

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuanvinh1997/open-term/internal/rdpwire"
)

func TestToWireInput(t *testing.T) {
	tests := []struct {
		name string
		in   InputEvent
		want rdpwire.FastPathInput
	}{
		{
			name: "mouse move",
			in:   InputEvent{Type: InputMouseMove, X: 100, Y: 200},
			want: rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagMove, X: 100, Y: 200},
		},
		{
			name: "left press",
			in:   InputEvent{Type: InputMouseButton, Button: MouseButtonLeft, Pressed: true, X: 1, Y: 2},
			want: rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagDown | rdpwire.PtrFlagButton1, X: 1, Y: 2},
		},
		{
			name: "right release",
			in:   InputEvent{Type: InputMouseButton, Button: MouseButtonRight, X: 1, Y: 2},
			want: rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagButton2, X: 1, Y: 2},
		},
		{
			name: "middle press",
			in:   InputEvent{Type: InputMouseButton, Button: MouseButtonMiddle, Pressed: true},
			want: rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagDown | rdpwire.PtrFlagButton3},
		},
		{
			name: "wheel up",
			in:   InputEvent{Type: InputMouseWheel, Delta: 120, X: 5, Y: 5},
			want: rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagWheel | 120, X: 5, Y: 5},
		},
		{
			name: "wheel down",
			in:   InputEvent{Type: InputMouseWheel, Delta: -120, X: 5, Y: 5},
			want: rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagWheel | rdpwire.PtrFlagWheelNegative | 120, X: 5, Y: 5},
		},
		{
			name: "key press",
			in:   InputEvent{Type: InputKeyboard, Scancode: 0x1e, Pressed: true},
			want: rdpwire.KeyEvent{Scancode: 0x1e},
		},
		{
			name: "key release",
			in:   InputEvent{Type: InputKeyboard, Scancode: 0x1e},
			want: rdpwire.KeyEvent{Flags: rdpwire.KbdFlagRelease, Scancode: 0x1e},
		},
		{
			name: "extended key",
			in:   InputEvent{Type: InputKeyboard, Scancode: 0xc8, Pressed: true},
			want: rdpwire.KeyEvent{Flags: rdpwire.KbdFlagExtended, Scancode: 0x48},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toWireInput(tt.in))
		})
	}
}

func TestToWireInputUnknownDropped(t *testing.T) {
	assert.Nil(t, toWireInput(InputEvent{Type: "gamepad"}))
	assert.Nil(t, toWireInput(InputEvent{Type: InputMouseButton, Button: 9}))
}

func TestProcessEventsRequiresConnection(t *testing.T) {
	c := NewClient(Config{Host: "example"})

	_, err := c.ProcessEvents()
	require.Error(t, err)

	var rdpErr *Error
	require.ErrorAs(t, err, &rdpErr)
	assert.Equal(t, ErrNotConnected, rdpErr.Code)
}

func TestConnectTimesOutOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// accept and swallow the negotiation request, never answer
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(Config{Host: host, Port: port, Username: "alice", Password: "pw"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "a silent server must not wedge Connect")

	var rdpErr *Error
	require.ErrorAs(t, err, &rdpErr)
	assert.Equal(t, ErrConnect, rdpErr.Code)
	assert.False(t, c.IsConnected())
}

// scriptedStage stands in for the active stage so ProcessEvents
// plumbing can be exercised without a server.
type scriptedStage struct {
	outputs []rdpwire.Output
	err     error
}

func (s *scriptedStage) Process(img rdpwire.Image, action rdpwire.Action, payload []byte) ([]rdpwire.Output, error) {
	return s.outputs, s.err
}

// minimal TPKT-framed X.224 data PDU, enough for ReadPDU to hand the
// stage one slow-path payload
var emptySlowPathPDU = []byte{0x03, 0x00, 0x00, 0x07, 0x02, 0xf0, 0x80}

func TestProcessEventsWritesResponses(t *testing.T) {
	cliConn, srvConn := net.Pipe()
	defer cliConn.Close()
	defer srvConn.Close()

	response := []byte{0x03, 0x00, 0x00, 0x08, 0x02, 0xf0, 0x80, 0x2a}
	c := &Client{
		framed: rdpwire.NewFramed(cliConn),
		fb:     NewFrameBuffer(100, 100),
		stage: &scriptedStage{outputs: []rdpwire.Output{
			{Kind: rdpwire.OutputResponse, Response: response},
			{Kind: rdpwire.OutputGraphics, Region: rdpwire.Region{Left: 0, Top: 0, Right: 10, Bottom: 10}},
		}},
	}
	c.connected.Store(true)

	echoed := make(chan []byte, 1)
	go func() {
		srvConn.Write(emptySlowPathPDU)
		buf := make([]byte, len(response))
		if _, err := io.ReadFull(srvConn, buf); err != nil {
			close(echoed)
			return
		}
		echoed <- buf
	}()

	rects, err := c.ProcessEvents()
	require.NoError(t, err)
	require.Len(t, rects, 1)
	assert.Equal(t, Rect{X: 0, Y: 0, Width: 10, Height: 10}, rects[0])

	select {
	case got := <-echoed:
		assert.Equal(t, response, got, "response PDUs must reach the wire before ProcessEvents returns")
	case <-time.After(time.Second):
		t.Fatal("response PDU never written")
	}
}

func TestProcessEventsTerminateOutput(t *testing.T) {
	cliConn, srvConn := net.Pipe()
	defer cliConn.Close()
	defer srvConn.Close()

	c := &Client{
		framed: rdpwire.NewFramed(cliConn),
		fb:     NewFrameBuffer(100, 100),
		stage:  &scriptedStage{outputs: []rdpwire.Output{{Kind: rdpwire.OutputTerminate, Reason: 1}}},
	}
	c.connected.Store(true)

	go srvConn.Write(emptySlowPathPDU)

	rects, err := c.ProcessEvents()
	require.NoError(t, err, "an orderly termination is not an error")
	assert.Nil(t, rects)
	assert.False(t, c.IsConnected())
}

func TestInputEventJSONShape(t *testing.T) {
	data, err := json.Marshal(InputEvent{Type: InputKeyboard, Scancode: 0x1c, Pressed: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"down":true`)
	assert.NotContains(t, string(data), `"pressed"`)

	var ev InputEvent
	require.NoError(t, json.Unmarshal([]byte(`{"type":"mouse_button","button":1,"down":true,"x":3,"y":4}`), &ev))
	assert.True(t, ev.Pressed)
	assert.Equal(t, MouseButtonLeft, ev.Button)
}

func TestInputEventCritical(t *testing.T) {
	assert.False(t, InputEvent{Type: InputMouseMove}.Critical())
	assert.True(t, InputEvent{Type: InputMouseButton}.Critical())
	assert.True(t, InputEvent{Type: InputMouseWheel}.Critical())
	assert.True(t, InputEvent{Type: InputKeyboard}.Critical())
}
