package rdpwire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Image is the surface the active stage draws into. Blit receives one
// decoded bitmap rectangle in top-down row order.
type Image interface {
	// Blit copies a rectangle of pixel data at the given bits per pixel
	// into the surface at (x, y).
	Blit(x, y, width, height, bitsPerPixel int, data []byte) error
}

// Region is a damaged area in inclusive-exclusive desktop coordinates.
type Region struct {
	Left   uint16
	Top    uint16
	Right  uint16
	Bottom uint16
}

// OutputKind discriminates the events the active stage produces.
type OutputKind int

const (
	// OutputGraphics reports that Region of the image changed.
	OutputGraphics OutputKind = iota
	// OutputPointerDefault restores the default pointer shape.
	OutputPointerDefault
	// OutputPointerHidden hides the pointer.
	OutputPointerHidden
	// OutputPointerPosition moves the pointer to (X, Y).
	OutputPointerPosition
	// OutputDeactivateAll signals a server-side deactivation; the
	// connection stays up and a new capability exchange may follow.
	OutputDeactivateAll
	// OutputTerminate signals an orderly end of the session. Reason
	// carries the server's disconnect reason code when one was sent.
	OutputTerminate
	// OutputResponse carries a fully framed PDU the caller must write
	// back to the transport before processing further input.
	OutputResponse
)

type Output struct {
	Kind     OutputKind
	Region   Region
	X, Y     uint16
	Reason   byte
	Response []byte
}

// ActiveStage decodes server PDUs received after the connection sequence
// completes, applying bitmap updates to an Image and reporting what
// happened as Outputs.
type ActiveStage struct {
	// fragment reassembly buffer for fast-path updates
	fragments []byte
}

func NewActiveStage() *ActiveStage {
	return &ActiveStage{}
}

// Process handles one PDU read from the transport.
func (s *ActiveStage) Process(img Image, action Action, payload []byte) ([]Output, error) {
	switch action {
	case ActionFastPath:
		return s.processFastPath(img, payload)
	case ActionX224:
		return s.processSlowPath(payload)
	default:
		return nil, fmt.Errorf("rdpwire: unknown transport action %d", action)
	}
}

func (s *ActiveStage) processFastPath(img Image, payload []byte) ([]Output, error) {
	var outputs []Output
	for len(payload) > 0 {
		if len(payload) < 3 {
			return nil, fmt.Errorf("rdpwire: truncated fast-path update header")
		}
		header := payload[0]
		code := header & 0x0f
		frag := header >> 4 & 0x03
		compression := header >> 6 & 0x03
		payload = payload[1:]

		if compression&fpCompressionUsed != 0 {
			// compressionFlags byte, always present when signalled
			payload = payload[1:]
		}
		if len(payload) < 2 {
			return nil, fmt.Errorf("rdpwire: truncated fast-path update header")
		}
		size := int(binary.LittleEndian.Uint16(payload))
		payload = payload[2:]
		if size > len(payload) {
			return nil, fmt.Errorf("rdpwire: fast-path update overruns PDU (%d > %d)", size, len(payload))
		}
		data := payload[:size]
		payload = payload[size:]

		switch frag {
		case fpFragSingle:
		case fpFragFirst:
			s.fragments = append(s.fragments[:0], data...)
			continue
		case fpFragNext:
			s.fragments = append(s.fragments, data...)
			continue
		case fpFragLast:
			data = append(s.fragments, data...)
			s.fragments = nil
		}

		out, err := s.processUpdate(img, code, data)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out...)
	}
	return outputs, nil
}

func (s *ActiveStage) processUpdate(img Image, code byte, data []byte) ([]Output, error) {
	switch code {
	case fpUpdateBitmap:
		return processBitmapUpdate(img, data)
	case fpUpdatePtrDefault, fpUpdateColor, fpUpdateCached, fpUpdatePointer:
		return []Output{{Kind: OutputPointerDefault}}, nil
	case fpUpdatePtrNull:
		return []Output{{Kind: OutputPointerHidden}}, nil
	case fpUpdatePtrPosition:
		if len(data) < 4 {
			return nil, fmt.Errorf("rdpwire: truncated pointer position update")
		}
		return []Output{{
			Kind: OutputPointerPosition,
			X:    binary.LittleEndian.Uint16(data),
			Y:    binary.LittleEndian.Uint16(data[2:]),
		}}, nil
	case fpUpdateOrders:
		return nil, fmt.Errorf("rdpwire: server sent drawing orders despite empty order support")
	default:
		// palette, synchronize and surface commands carry nothing the
		// framebuffer needs
		return nil, nil
	}
}

// processBitmapUpdate applies a TS_UPDATE_BITMAP_DATA to img. Rows
// arrive bottom-up and are flipped before the blit.
func processBitmapUpdate(img Image, data []byte) ([]Output, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("rdpwire: truncated bitmap update")
	}
	if t := binary.LittleEndian.Uint16(data); t != updateTypeBitmap {
		return nil, fmt.Errorf("rdpwire: bitmap update with unexpected type 0x%04x", t)
	}
	count := int(binary.LittleEndian.Uint16(data[2:]))
	data = data[4:]

	outputs := make([]Output, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 18 {
			return nil, fmt.Errorf("rdpwire: truncated bitmap data header")
		}
		destLeft := binary.LittleEndian.Uint16(data[0:])
		destTop := binary.LittleEndian.Uint16(data[2:])
		destRight := binary.LittleEndian.Uint16(data[4:])
		destBottom := binary.LittleEndian.Uint16(data[6:])
		width := int(binary.LittleEndian.Uint16(data[8:]))
		height := int(binary.LittleEndian.Uint16(data[10:]))
		bpp := int(binary.LittleEndian.Uint16(data[12:]))
		flags := binary.LittleEndian.Uint16(data[14:])
		length := int(binary.LittleEndian.Uint16(data[16:]))
		data = data[18:]
		if length > len(data) {
			return nil, fmt.Errorf("rdpwire: bitmap data overruns update (%d > %d)", length, len(data))
		}
		bitmap := data[:length]
		data = data[length:]

		if flags&bitmapCompression != 0 {
			return nil, fmt.Errorf("rdpwire: compressed bitmap data is not supported")
		}

		rowBytes := width * bpp / 8
		if rowBytes*height > len(bitmap) {
			return nil, fmt.Errorf("rdpwire: bitmap data shorter than %dx%d at %d bpp", width, height, bpp)
		}
		flipped := flipRows(bitmap, rowBytes, height)
		if err := img.Blit(int(destLeft), int(destTop), width, height, bpp, flipped); err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{
			Kind:   OutputGraphics,
			Region: Region{Left: destLeft, Top: destTop, Right: destRight + 1, Bottom: destBottom + 1},
		})
	}
	return outputs, nil
}

func flipRows(data []byte, rowBytes, height int) []byte {
	out := make([]byte, rowBytes*height)
	for row := 0; row < height; row++ {
		src := data[(height-1-row)*rowBytes : (height-row)*rowBytes]
		copy(out[row*rowBytes:], src)
	}
	return out
}

func (s *ActiveStage) processSlowPath(payload []byte) ([]Output, error) {
	_, data, err := unwrapMCSSendData(stripX224Data(payload))
	if err != nil {
		var ultimatum *disconnectUltimatumError
		if errors.As(err, &ultimatum) {
			return []Output{{Kind: OutputTerminate, Reason: ultimatum.reason}}, nil
		}
		return nil, err
	}
	pduType, body, err := parseShareControl(data)
	if err != nil {
		return nil, err
	}

	switch pduType {
	case pduTypeDeactivateAll:
		return []Output{{Kind: OutputDeactivateAll}}, nil
	case pduTypeData:
		pduType2, pduBody, err := parseShareData(body)
		if err != nil {
			return nil, err
		}
		switch pduType2 {
		case pduType2SetErrorInfo:
			if len(pduBody) >= 4 {
				if code := binary.LittleEndian.Uint32(pduBody); code != 0 {
					return nil, fmt.Errorf("rdpwire: server reported error info 0x%08x", code)
				}
			}
			return nil, nil
		case pduType2ShutdownDeny:
			return []Output{{Kind: OutputTerminate}}, nil
		default:
			return nil, nil
		}
	default:
		return nil, nil
	}
}
