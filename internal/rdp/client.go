package rdp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xuanvinh1997/open-term/internal/rdpwire"
)

// Config describes one remote desktop connection.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Domain   string

	Width   uint16
	Height  uint16
	Quality Quality

	ClientName  string
	DialTimeout time.Duration
}

func (c Config) address() string {
	port := c.Port
	if port == 0 {
		port = 3389
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

// readPollInterval bounds how long ProcessEvents blocks when the server
// is quiet.
const readPollInterval = 50 * time.Millisecond

// handshakeTimeout bounds the whole connection sequence after the TCP
// dial, so a server that accepts and goes silent cannot wedge Connect.
const handshakeTimeout = 30 * time.Second

// Client drives one RDP connection. Connect and Disconnect bracket its
// lifetime; between them a single goroutine calls ProcessEvents in a
// loop while SendInput, ExtractRect and the accessors may be called
// from other goroutines.
type Client struct {
	cfg Config

	writeMu sync.Mutex // serializes wire writes
	fbMu    sync.Mutex // guards fb pixel data

	conn      net.Conn
	framed    *rdpwire.Framed
	stage     pduStage
	fb        *FrameBuffer
	result    *rdpwire.ConnectionResult
	connected atomic.Bool
}

// pduStage decodes one server PDU into stage outputs. The production
// implementation is *rdpwire.ActiveStage.
type pduStage interface {
	Process(img rdpwire.Image, action rdpwire.Action, payload []byte) ([]rdpwire.Output, error)
}

var _ pduStage = (*rdpwire.ActiveStage)(nil)

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect runs the full connection sequence: TCP dial, X.224
// negotiation, TLS upgrade, server key extraction, CredSSP and the MCS
// connection sequence. On success the client is active and ProcessEvents
// may be called.
func (c *Client) Connect(ctx context.Context) error {
	settings := c.cfg.Quality.Settings()
	connector := rdpwire.NewConnector(rdpwire.Config{
		Credentials: rdpwire.Credentials{
			Username: c.cfg.Username,
			Password: c.cfg.Password,
			Domain:   c.cfg.Domain,
		},
		DesktopWidth:  c.cfg.Width,
		DesktopHeight: c.cfg.Height,
		ColorDepth:    settings.ColorDepth,
		PerfFlags:     settings.PerfFlags,
		ClientName:    c.cfg.ClientName,
	})

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.address())
	if err != nil {
		return newError("dial "+c.cfg.address(), ErrConnect, err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	selected, err := connector.RequestConnection(rdpwire.NewFramed(conn))
	if err != nil {
		conn.Close()
		if rdpwire.IsTimeout(err) {
			return newError("negotiate", ErrConnect, err)
		}
		return newError("negotiate", ErrProtocol, err)
	}

	// self-signed certificates are the norm on RDP hosts; CredSSP binds
	// the credentials to this exact certificate instead
	tlsConn := tls.Client(conn, &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		if rdpwire.IsTimeout(err) {
			return newError("tls handshake", ErrConnect, err)
		}
		return newError("tls handshake", ErrTLS, err)
	}

	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		tlsConn.Close()
		return newError("tls handshake", ErrTLS, fmt.Errorf("server presented no certificate"))
	}
	serverPubKey := certs[0].RawSubjectPublicKeyInfo

	if err := connector.Authenticate(tlsConn, serverPubKey); err != nil {
		tlsConn.Close()
		if rdpwire.IsTimeout(err) {
			return newError("credssp", ErrConnect, err)
		}
		return newError("credssp", ErrAuth, err)
	}

	framed := rdpwire.NewFramed(tlsConn)
	result, err := connector.EstablishSession(framed)
	if err != nil {
		tlsConn.Close()
		if rdpwire.IsTimeout(err) {
			return newError("establish session", ErrConnect, err)
		}
		return newError("establish session", ErrProtocol, err)
	}

	log.Printf("rdp: session active on %s: %dx%d, protocol 0x%x",
		c.cfg.address(), result.DesktopWidth, result.DesktopHeight, selected)

	// the handshake deadline must not bleed into ProcessEvents polling
	tlsConn.SetDeadline(time.Time{})

	c.conn = tlsConn
	c.framed = framed
	c.stage = rdpwire.NewActiveStage()
	c.fb = NewFrameBuffer(int(result.DesktopWidth), int(result.DesktopHeight))
	c.result = result
	c.connected.Store(true)
	return nil
}

// ProcessEvents reads and processes at most one PDU from the server,
// returning the desktop regions it dirtied. A quiet server yields
// (nil, nil) after the poll interval; an orderly termination marks the
// client disconnected and also returns (nil, nil).
func (c *Client) ProcessEvents() ([]Rect, error) {
	if !c.connected.Load() {
		return nil, newError("process events", ErrNotConnected, nil)
	}

	c.framed.SetReadDeadline(time.Now().Add(readPollInterval))
	action, payload, err := c.framed.ReadPDU()
	if err != nil {
		if rdpwire.IsTimeout(err) {
			return nil, nil
		}
		c.connected.Store(false)
		if rdpwire.IsClosed(err) {
			return nil, newError("process events", ErrClosed, err)
		}
		return nil, newError("process events", ErrProtocol, err)
	}

	c.fbMu.Lock()
	outputs, err := c.stage.Process(c.fb, action, payload)
	c.fbMu.Unlock()
	if err != nil {
		c.connected.Store(false)
		return nil, newError("process events", ErrProtocol, err)
	}

	var dirty []Rect
	var response []byte
	for _, out := range outputs {
		switch out.Kind {
		case rdpwire.OutputGraphics:
			r := RectFromRegion(out.Region).Clamp(c.fb.Width(), c.fb.Height())
			if !r.Empty() {
				dirty = append(dirty, r)
			}
		case rdpwire.OutputResponse:
			response = append(response, out.Response...)
		case rdpwire.OutputTerminate:
			log.Printf("rdp: server ended the session on %s (reason %d)", c.cfg.address(), out.Reason)
			c.connected.Store(false)
			return nil, nil
		case rdpwire.OutputDeactivateAll:
			log.Printf("rdp: server deactivated the session on %s", c.cfg.address())
		}
	}
	// response PDUs owed from this step go out in one write
	if len(response) > 0 {
		c.writeMu.Lock()
		err := c.framed.Write(response)
		c.writeMu.Unlock()
		if err != nil {
			c.connected.Store(false)
			return nil, newError("process events", ErrClosed, err)
		}
	}
	return dirty, nil
}

// SendInput encodes events into a single fast-path input PDU and writes
// it. Unknown event types are skipped.
func (c *Client) SendInput(events []InputEvent) error {
	if !c.connected.Load() {
		return newError("send input", ErrNotConnected, nil)
	}

	wire := make([]rdpwire.FastPathInput, 0, len(events))
	for _, ev := range events {
		if w := toWireInput(ev); w != nil {
			wire = append(wire, w)
		}
	}
	if len(wire) == 0 {
		return nil
	}

	pdu, err := rdpwire.EncodeFastPathInput(wire)
	if err != nil {
		return newError("send input", ErrProtocol, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.framed.Write(pdu); err != nil {
		c.connected.Store(false)
		return newError("send input", ErrClosed, err)
	}
	return nil
}

func toWireInput(ev InputEvent) rdpwire.FastPathInput {
	switch ev.Type {
	case InputMouseMove:
		return rdpwire.MouseEvent{PointerFlags: rdpwire.PtrFlagMove, X: ev.X, Y: ev.Y}
	case InputMouseButton:
		var flags uint16
		switch ev.Button {
		case MouseButtonLeft:
			flags = rdpwire.PtrFlagButton1
		case MouseButtonRight:
			flags = rdpwire.PtrFlagButton2
		case MouseButtonMiddle:
			flags = rdpwire.PtrFlagButton3
		default:
			return nil
		}
		if ev.Pressed {
			flags |= rdpwire.PtrFlagDown
		}
		return rdpwire.MouseEvent{PointerFlags: flags, X: ev.X, Y: ev.Y}
	case InputMouseWheel:
		flags := uint16(rdpwire.PtrFlagWheel)
		delta := ev.Delta
		if delta < 0 {
			flags |= rdpwire.PtrFlagWheelNegative
			delta = -delta
		}
		flags |= uint16(delta) & 0x01ff
		return rdpwire.MouseEvent{PointerFlags: flags, X: ev.X, Y: ev.Y}
	case InputKeyboard:
		var kbdFlags byte
		if !ev.Pressed {
			kbdFlags |= rdpwire.KbdFlagRelease
		}
		if ev.Scancode > 0x7f {
			kbdFlags |= rdpwire.KbdFlagExtended
		}
		return rdpwire.KeyEvent{Flags: kbdFlags, Scancode: byte(ev.Scancode & 0x7f)}
	default:
		return nil
	}
}

// ExtractRect copies the RGBA pixels of r from the framebuffer.
func (c *Client) ExtractRect(r Rect) []byte {
	c.fbMu.Lock()
	defer c.fbMu.Unlock()
	return c.fb.Extract(r)
}

// Snapshot copies the whole desktop.
func (c *Client) Snapshot() []byte {
	c.fbMu.Lock()
	defer c.fbMu.Unlock()
	return c.fb.Snapshot()
}

// Dimensions returns the negotiated desktop size.
func (c *Client) Dimensions() (width, height int) {
	return int(c.result.DesktopWidth), int(c.result.DesktopHeight)
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Disconnect closes the transport. Safe to call more than once.
func (c *Client) Disconnect() error {
	if !c.connected.Swap(false) {
		return nil
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
